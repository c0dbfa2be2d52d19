package bingx

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"arbitrage.watch/markets"
)

// gunzip inflates a binary websocket frame. BingX compresses every
// server-to-client payload, including the heartbeat.
func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// splitTopic splits "BTC-USDT@bookTicker" into its native symbol and
// channel parts.
func splitTopic(dataType string) (native, channel string) {
	if i := strings.IndexByte(dataType, '@'); i >= 0 {
		return dataType[:i], dataType[i+1:]
	}
	return dataType, ""
}

// shardListings packs listings into groups of at most perSocket topics.
// Greedy fill keeps the socket count minimal.
func shardListings(listings []markets.Listing, perSocket int) [][]markets.Listing {
	if len(listings) == 0 {
		return nil
	}
	shards := make([][]markets.Listing, 0, (len(listings)+perSocket-1)/perSocket)
	for len(listings) > perSocket {
		shards = append(shards, listings[:perSocket])
		listings = listings[perSocket:]
	}
	return append(shards, listings)
}
