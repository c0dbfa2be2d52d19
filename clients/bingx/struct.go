package bingx

import (
	"encoding/json"

	"arbitrage.watch/clients/common"
)

type subscribeRequest struct {
	ID       string `json:"id"`
	ReqType  string `json:"reqType"`
	DataType string `json:"dataType"`
}

// frame covers both subscription acks (id/code/msg) and data pushes
// (dataType/data) so one decode pass can route either.
type frame struct {
	ID       string          `json:"id,omitempty"`
	Code     *int            `json:"code,omitempty"`
	Msg      string          `json:"msg,omitempty"`
	DataType string          `json:"dataType,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type bookTicker struct {
	Symbol   string       `json:"s"`
	BidPrice common.Float `json:"b"`
	BidQty   common.Float `json:"B"`
	AskPrice common.Float `json:"a"`
	AskQty   common.Float `json:"A"`
}

type depthUpdate struct {
	Symbol       string              `json:"symbol"`
	Action       string              `json:"action"`
	LastUpdateID uint64              `json:"lastUpdateId"`
	Bids         []common.PriceLevel `json:"bids"`
	Asks         []common.PriceLevel `json:"asks"`
}
