package ramzinex

import (
	"encoding/json"

	"arbitrage.watch/clients/common"
)

// Centrifugo command/reply framing. Commands carry a client-chosen id;
// replies echo it. Pushes and the empty heartbeat carry none.

type command struct {
	ID          int                 `json:"id,omitempty"`
	Connect     *connectRequest     `json:"connect,omitempty"`
	Subscribe   *subscribeRequest   `json:"subscribe,omitempty"`
	Unsubscribe *unsubscribeRequest `json:"unsubscribe,omitempty"`
}

type connectRequest struct {
	Name string `json:"name"`
}

type subscribeRequest struct {
	Channel string `json:"channel"`
	Recover bool   `json:"recover"`
	Delta   string `json:"delta,omitempty"`
}

type unsubscribeRequest struct {
	Channel string `json:"channel"`
}

type reply struct {
	ID        int              `json:"id,omitempty"`
	Error     *replyError      `json:"error,omitempty"`
	Connect   *connectResult   `json:"connect,omitempty"`
	Subscribe *subscribeResult `json:"subscribe,omitempty"`
	Push      *push            `json:"push,omitempty"`
}

type replyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type connectResult struct {
	Client  string `json:"client"`
	Version string `json:"version"`
	Ping    int    `json:"ping"`
}

type subscribeResult struct {
	Recoverable  bool          `json:"recoverable"`
	Offset       uint64        `json:"offset"`
	Epoch        string        `json:"epoch"`
	Publications []publication `json:"publications"`
}

type push struct {
	Channel string       `json:"channel"`
	Pub     *publication `json:"pub"`
}

type publication struct {
	Data   json.RawMessage `json:"data"`
	Offset uint64          `json:"offset"`
}

// bookData is one orderbook publication. Both sides arrive sorted by
// price descending, so the best ask sits at the end of sells; level
// maps make that irrelevant here. A zero amount deletes the level.
type bookData struct {
	Buys  []common.PriceLevel `json:"buys"`
	Sells []common.PriceLevel `json:"sells"`
}
