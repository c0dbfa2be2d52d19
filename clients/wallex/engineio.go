package wallex

import (
	"encoding/json"
	"fmt"
)

// Engine.IO v4 text framing. The first byte is the engine packet type;
// a message packet nests a Socket.IO packet whose first byte is its own
// type. Only the packets the venue actually uses are handled.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'

	sioConnect = '0'
	sioEvent   = '2'
	sioError   = '4'
)

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// encodeEvent builds a "42" frame: event name first, one argument after.
func encodeEvent(name string, arg any) ([]byte, error) {
	body, err := json.Marshal([]any{name, arg})
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// decodeEvent unpacks the body of a "42" frame.
func decodeEvent(body []byte) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return "", nil, err
	}
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("wallex: event frame has %d elements", len(parts))
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, err
	}
	return name, parts[1], nil
}

func preview(raw []byte) string {
	const n = 48
	if len(raw) > n {
		return string(raw[:n]) + "..."
	}
	return string(raw)
}
