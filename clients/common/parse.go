package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"arbitrage.watch/orderbook"
)

// Float decodes venue numerics that arrive either as JSON numbers or as
// quoted strings, which varies not just per venue but per field.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse float %q: %w", s, err)
	}
	*f = Float(v)
	return nil
}

func (f Float) Float64() float64 { return float64(f) }

// PriceLevel decodes the ubiquitous [price, volume, ...] tuple; extra
// elements are ignored.
type PriceLevel struct {
	Price  float64
	Volume float64
}

func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("price level needs price and volume, got %d fields", len(raw))
	}
	var price, volume Float
	if err := json.Unmarshal(raw[0], &price); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &volume); err != nil {
		return err
	}
	l.Price = float64(price)
	l.Volume = float64(volume)
	return nil
}

// Levels converts parsed wire tuples into book levels.
func Levels(in []PriceLevel) []orderbook.Level {
	out := make([]orderbook.Level, len(in))
	for i, l := range in {
		out[i] = orderbook.Level{Price: l.Price, Volume: l.Volume}
	}
	return out
}
