// Package markets is the symbol registry: it maps exchange-native pair
// identifiers to one canonical identity and carries the display and
// precision metadata stamped onto outgoing events.
package markets

import (
	"errors"
	"strings"
)

// Pair is the canonical market identity, BASE/QUOTE uppercased.
type Pair string

var ErrUnknownSymbol = errors.New("markets: unknown symbol")

// Base returns the asset code left of the slash.
func (p Pair) Base() string {
	if i := strings.IndexByte(string(p), '/'); i > 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Quote returns the asset code right of the slash.
func (p Pair) Quote() string {
	if i := strings.IndexByte(string(p), '/'); i >= 0 && i+1 < len(p) {
		return string(p)[i+1:]
	}
	return ""
}

// Compact is the slash-less form used for wire symbols and redis keys.
func (p Pair) Compact() string {
	return strings.ReplaceAll(string(p), "/", "")
}

func (p Pair) String() string { return string(p) }

// Hash is a stable FNV-1a of the pair, used to shard store slots and
// detector workers so one pair always lands on the same unit.
func (p Pair) Hash() uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(p); i++ {
		h ^= uint32(p[i])
		h *= 16777619
	}
	return h
}

// MakePair builds a canonical Pair from asset codes.
func MakePair(base, quote string) Pair {
	return Pair(strings.ToUpper(base) + "/" + strings.ToUpper(quote))
}

type Precision struct {
	Price  int `yaml:"price"`
	Amount int `yaml:"amount"`
}

// Metadata describes one canonical market.
type Metadata struct {
	Pair         Pair
	Base         string
	Quote        string
	DisplayName  string
	CurrencyName string
	Precision    Precision

	// Per-market detection limits. MinProfit 0 defers to the global
	// threshold; MaxVolume 0 means unbounded.
	MinProfit float64
	MinVolume float64
	MaxVolume float64

	Enabled bool
}

// Alias binds one exchange-native symbol to a canonical pair. Ramzinex
// uses opaque numeric ids as natives; they are aliases like any other.
type Alias struct {
	Exchange string
	Native   string
	Pair     Pair
}

// Listing is one subscription target for a venue.
type Listing struct {
	Native string
	Pair   Pair
}

// Source is one provider of market metadata (defaults, database, file).
type Source struct {
	Markets []Metadata
	Aliases []Alias
}
