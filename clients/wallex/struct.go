package wallex

import "arbitrage.watch/clients/common"

type subscribeArg struct {
	Channel string `json:"channel"`
}

// depthEntry is one resting order level; the venue sends each book side
// as an array of these with the best level first.
type depthEntry struct {
	Price    common.Float `json:"price"`
	Quantity common.Float `json:"quantity"`
	Sum      common.Float `json:"sum"`
}

// halves merges the venue's two one-sided depth channels into one
// top-of-book quote. A side that empties clears its flag so half-stale
// quotes never reach the store.
type halves struct {
	bidPrice, bidVol float64
	askPrice, askVol float64
	haveBid, haveAsk bool
}
