package markets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Markets []fileMarket `yaml:"markets"`
	Aliases []fileAlias  `yaml:"aliases"`
}

type fileMarket struct {
	Pair         string    `yaml:"pair"`
	Base         string    `yaml:"base"`
	Quote        string    `yaml:"quote"`
	DisplayName  string    `yaml:"display_name"`
	CurrencyName string    `yaml:"currency_name"`
	Precision    Precision `yaml:"precision"`
	MinProfit    float64   `yaml:"min_profit"`
	MinVolume    float64   `yaml:"min_volume"`
	MaxVolume    float64   `yaml:"max_volume"`
	Enabled      *bool     `yaml:"enabled"`
}

type fileAlias struct {
	Exchange string `yaml:"exchange"`
	Native   string `yaml:"native"`
	Pair     string `yaml:"pair"`
}

// LoadFile reads a YAML market override file. Entries are merged over
// the current source per pair and per (exchange, native); enabled
// defaults to true when omitted.
func LoadFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("markets: read %s: %w", path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Source{}, fmt.Errorf("markets: parse %s: %w", path, err)
	}

	src := Source{}
	for _, m := range doc.Markets {
		enabled := true
		if m.Enabled != nil {
			enabled = *m.Enabled
		}
		src.Markets = append(src.Markets, Metadata{
			Pair:         Pair(m.Pair),
			Base:         m.Base,
			Quote:        m.Quote,
			DisplayName:  m.DisplayName,
			CurrencyName: m.CurrencyName,
			Precision:    m.Precision,
			MinProfit:    m.MinProfit,
			MinVolume:    m.MinVolume,
			MaxVolume:    m.MaxVolume,
			Enabled:      enabled,
		})
	}
	for _, a := range doc.Aliases {
		src.Aliases = append(src.Aliases, Alias{
			Exchange: a.Exchange,
			Native:   a.Native,
			Pair:     Pair(a.Pair),
		})
	}
	return src, nil
}

// Merge overlays later sources onto earlier ones: markets replace by
// pair, aliases replace by (exchange, native).
func Merge(sources ...Source) Source {
	metaIdx := map[Pair]int{}
	aliasIdx := map[[2]string]int{}
	var out Source

	for _, s := range sources {
		for _, m := range s.Markets {
			if i, ok := metaIdx[m.Pair]; ok {
				out.Markets[i] = m
				continue
			}
			metaIdx[m.Pair] = len(out.Markets)
			out.Markets = append(out.Markets, m)
		}
		for _, a := range s.Aliases {
			key := [2]string{a.Exchange, a.Native}
			if i, ok := aliasIdx[key]; ok {
				out.Aliases[i] = a
				continue
			}
			aliasIdx[key] = len(out.Aliases)
			out.Aliases = append(out.Aliases, a)
		}
	}
	return out
}
