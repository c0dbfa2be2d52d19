package lbank

import "arbitrage.watch/clients/common"

type subscribeRequest struct {
	Action    string `json:"action"`
	Subscribe string `json:"subscribe"`
	Depth     string `json:"depth"`
	Pair      string `json:"pair"`
}

type pongReply struct {
	Action string `json:"action"`
	Pong   string `json:"pong"`
}

// message is the single inbound envelope: server pings carry action and
// ping, depth pushes carry type, pair and the book.
type message struct {
	Action string        `json:"action,omitempty"`
	Ping   string        `json:"ping,omitempty"`
	Type   string        `json:"type,omitempty"`
	Pair   string        `json:"pair,omitempty"`
	Depth  *depthPayload `json:"depth,omitempty"`
}

type depthPayload struct {
	Asks []common.PriceLevel `json:"asks"`
	Bids []common.PriceLevel `json:"bids"`
}
