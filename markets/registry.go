package markets

import (
	"fmt"
	"sort"
)

// Registry resolves native symbols to canonical pairs and back. It is
// built once at startup and never mutated, so all reads are lock-free.
type Registry struct {
	meta     map[Pair]Metadata
	aliases  map[string]map[string]Pair
	listings map[string][]Listing
}

// NewRegistry validates and indexes the given markets and aliases.
// Disabled markets are dropped along with their aliases. The alias table
// must be injective per exchange: a native symbol maps to exactly one
// pair and no two natives on one exchange share a pair.
func NewRegistry(meta []Metadata, aliases []Alias) (*Registry, error) {
	r := &Registry{
		meta:     make(map[Pair]Metadata, len(meta)),
		aliases:  make(map[string]map[string]Pair),
		listings: make(map[string][]Listing),
	}

	for _, m := range meta {
		if !m.Enabled {
			continue
		}
		if m.Pair == "" {
			return nil, fmt.Errorf("markets: market with empty pair")
		}
		if m.Base == "" || m.Quote == "" {
			return nil, fmt.Errorf("markets: %s is missing asset codes", m.Pair)
		}
		if m.DisplayName == "" {
			m.DisplayName = string(m.Pair)
		}
		r.meta[m.Pair] = m
	}

	seen := make(map[string]map[Pair]string) // exchange -> pair -> native
	for _, a := range aliases {
		if _, ok := r.meta[a.Pair]; !ok {
			continue // alias of a disabled or unknown market
		}
		natives := r.aliases[a.Exchange]
		if natives == nil {
			natives = make(map[string]Pair)
			r.aliases[a.Exchange] = natives
			seen[a.Exchange] = make(map[Pair]string)
		}
		if prev, ok := natives[a.Native]; ok && prev != a.Pair {
			return nil, fmt.Errorf("markets: %s symbol %q maps to both %s and %s",
				a.Exchange, a.Native, prev, a.Pair)
		}
		if prev, ok := seen[a.Exchange][a.Pair]; ok && prev != a.Native {
			return nil, fmt.Errorf("markets: %s pair %s has two natives %q and %q",
				a.Exchange, a.Pair, prev, a.Native)
		}
		natives[a.Native] = a.Pair
		seen[a.Exchange][a.Pair] = a.Native
	}

	for exchange, natives := range r.aliases {
		ls := make([]Listing, 0, len(natives))
		for native, pair := range natives {
			ls = append(ls, Listing{Native: native, Pair: pair})
		}
		sort.Slice(ls, func(i, j int) bool { return ls[i].Pair < ls[j].Pair })
		r.listings[exchange] = ls
	}

	if len(r.meta) == 0 {
		return nil, fmt.Errorf("markets: no enabled markets")
	}
	return r, nil
}

// Canonicalize maps an exchange-native symbol to its canonical pair.
func (r *Registry) Canonicalize(exchange, native string) (Pair, error) {
	if natives, ok := r.aliases[exchange]; ok {
		if p, ok := natives[native]; ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q", ErrUnknownSymbol, exchange, native)
}

// Describe returns the metadata for a canonical pair.
func (r *Registry) Describe(p Pair) (Metadata, bool) {
	m, ok := r.meta[p]
	return m, ok
}

// ForExchange returns the subscription set for a venue, sorted by pair.
func (r *Registry) ForExchange(exchange string) []Listing {
	src := r.listings[exchange]
	out := make([]Listing, len(src))
	copy(out, src)
	return out
}

// All returns every enabled market, sorted by pair.
func (r *Registry) All() []Metadata {
	out := make([]Metadata, 0, len(r.meta))
	for _, m := range r.meta {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// CurrencyNames maps base asset codes to their human names, as served
// to dashboard clients alongside prices and opportunities.
func (r *Registry) CurrencyNames() map[string]string {
	out := make(map[string]string, len(r.meta))
	for _, m := range r.meta {
		if m.CurrencyName != "" {
			out[m.Base] = m.CurrencyName
		}
	}
	return out
}
