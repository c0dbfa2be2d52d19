package markets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	src := Defaults()
	reg, err := NewRegistry(src.Markets, src.Aliases)
	require.NoError(t, err)
	return reg
}

func TestCanonicalize(t *testing.T) {
	reg := defaultRegistry(t)

	tests := []struct {
		exchange string
		native   string
		want     Pair
	}{
		{"bingx", "BTC-USDT", "BTC/USDT"},
		{"wallex", "USDTTMN", "USDT/TMN"},
		{"ramzinex", "2", "BTC/USDT"},
		{"ramzinex", "643", "XRP/USDT"},
		{"lbank", "doge_usdt", "DOGE/USDT"},
		{"tabdeal", "usdtirt", "USDT/TMN"},
	}
	for _, tt := range tests {
		got, err := reg.Canonicalize(tt.exchange, tt.native)
		require.NoError(t, err, "%s %s", tt.exchange, tt.native)
		assert.Equal(t, tt.want, got)
	}
}

func TestCanonicalizeUnknown(t *testing.T) {
	reg := defaultRegistry(t)

	_, err := reg.Canonicalize("bingx", "PEPE-USDT")
	assert.True(t, errors.Is(err, ErrUnknownSymbol))

	_, err = reg.Canonicalize("kraken", "XBT/USD")
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
}

func TestDescribe(t *testing.T) {
	reg := defaultRegistry(t)

	meta, ok := reg.Describe("ETH/USDT")
	require.True(t, ok)
	assert.Equal(t, "ETH", meta.Base)
	assert.Equal(t, "USDT", meta.Quote)
	assert.Equal(t, "Ethereum", meta.CurrencyName)
	assert.Equal(t, "ETH/USDT", meta.DisplayName)

	_, ok = reg.Describe("SOL/USDT")
	assert.False(t, ok)
}

func TestForExchange(t *testing.T) {
	reg := defaultRegistry(t)

	listings := reg.ForExchange("ramzinex")
	require.NotEmpty(t, listings)
	byPair := map[Pair]string{}
	for _, l := range listings {
		byPair[l.Pair] = l.Native
	}
	assert.Equal(t, "2", byPair["BTC/USDT"])
	assert.Equal(t, "11", byPair["USDT/TMN"])

	assert.Empty(t, reg.ForExchange("nowhere"))
}

func TestRegistryRejectsAmbiguousAliases(t *testing.T) {
	markets := []Metadata{
		{Pair: "BTC/USDT", Base: "BTC", Quote: "USDT", Enabled: true},
		{Pair: "ETH/USDT", Base: "ETH", Quote: "USDT", Enabled: true},
	}

	_, err := NewRegistry(markets, []Alias{
		{Exchange: "x", Native: "BTCUSDT", Pair: "BTC/USDT"},
		{Exchange: "x", Native: "BTCUSDT", Pair: "ETH/USDT"},
	})
	require.Error(t, err)

	_, err = NewRegistry(markets, []Alias{
		{Exchange: "x", Native: "BTCUSDT", Pair: "BTC/USDT"},
		{Exchange: "x", Native: "XBTUSDT", Pair: "BTC/USDT"},
	})
	require.Error(t, err)
}

func TestRegistryDropsDisabledMarkets(t *testing.T) {
	markets := []Metadata{
		{Pair: "BTC/USDT", Base: "BTC", Quote: "USDT", Enabled: true},
		{Pair: "ETH/USDT", Base: "ETH", Quote: "USDT", Enabled: false},
	}
	aliases := []Alias{
		{Exchange: "x", Native: "BTCUSDT", Pair: "BTC/USDT"},
		{Exchange: "x", Native: "ETHUSDT", Pair: "ETH/USDT"},
	}
	reg, err := NewRegistry(markets, aliases)
	require.NoError(t, err)

	_, err = reg.Canonicalize("x", "ETHUSDT")
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
	assert.Len(t, reg.ForExchange("x"), 1)
}

func TestPairHelpers(t *testing.T) {
	p := MakePair("eth", "usdt")
	assert.Equal(t, Pair("ETH/USDT"), p)
	assert.Equal(t, "ETH", p.Base())
	assert.Equal(t, "USDT", p.Quote())
	assert.Equal(t, "ETHUSDT", p.Compact())
}

func TestBuildWithOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markets.yaml")
	doc := `
markets:
  - pair: BTC/USDT
    base: BTC
    quote: USDT
    currency_name: Bitcoin
    min_profit: 0.5
  - pair: ETH/USDT
    base: ETH
    quote: USDT
    enabled: false
aliases:
  - exchange: bingx
    native: BTC-USDT
    pair: BTC/USDT
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := Build(context.Background(), Options{MarketsFile: path}, zerolog.Nop())
	require.NoError(t, err)

	meta, ok := reg.Describe("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 0.5, meta.MinProfit)

	_, ok = reg.Describe("ETH/USDT")
	assert.False(t, ok, "override disables ETH/USDT")

	// Untouched defaults survive the merge.
	_, ok = reg.Describe("DOGE/USDT")
	assert.True(t, ok)
}

func TestCurrencyNames(t *testing.T) {
	reg := defaultRegistry(t)
	names := reg.CurrencyNames()
	assert.Equal(t, "Bitcoin", names["BTC"])
	assert.Equal(t, "Tether", names["USDT"])
}
