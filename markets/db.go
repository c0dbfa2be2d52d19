package markets

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type marketRow struct {
	CanonicalID     string  `db:"canonical_id"`
	Base            string  `db:"base"`
	Quote           string  `db:"quote"`
	DisplayName     string  `db:"display_name"`
	CurrencyName    string  `db:"currency_name"`
	PricePrecision  int     `db:"price_precision"`
	AmountPrecision int     `db:"amount_precision"`
	MinProfit       float64 `db:"min_profit"`
	MinVolume       float64 `db:"min_volume"`
	MaxVolume       float64 `db:"max_volume"`
	Enabled         bool    `db:"enabled"`
}

type aliasRow struct {
	Exchange     string `db:"exchange"`
	NativeSymbol string `db:"native_symbol"`
	CanonicalID  string `db:"canonical_id"`
}

// LoadDB reads the operator metadata store (markets + exchange_aliases).
// The database is read-only from this process; its content replaces the
// compiled-in defaults wholesale.
func LoadDB(ctx context.Context, dsn string) (Source, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return Source{}, fmt.Errorf("markets: connect metadata store: %w", err)
	}
	defer db.Close()

	var mrows []marketRow
	err = db.SelectContext(ctx, &mrows, `
		SELECT canonical_id, base, quote, display_name, currency_name,
		       price_precision, amount_precision,
		       min_profit, min_volume, max_volume, enabled
		FROM markets`)
	if err != nil {
		return Source{}, fmt.Errorf("markets: load markets table: %w", err)
	}

	var arows []aliasRow
	err = db.SelectContext(ctx, &arows, `
		SELECT exchange, native_symbol, canonical_id
		FROM exchange_aliases`)
	if err != nil {
		return Source{}, fmt.Errorf("markets: load exchange_aliases table: %w", err)
	}

	src := Source{
		Markets: make([]Metadata, 0, len(mrows)),
		Aliases: make([]Alias, 0, len(arows)),
	}
	for _, row := range mrows {
		src.Markets = append(src.Markets, Metadata{
			Pair:         Pair(row.CanonicalID),
			Base:         row.Base,
			Quote:        row.Quote,
			DisplayName:  row.DisplayName,
			CurrencyName: row.CurrencyName,
			Precision:    Precision{Price: row.PricePrecision, Amount: row.AmountPrecision},
			MinProfit:    row.MinProfit,
			MinVolume:    row.MinVolume,
			MaxVolume:    row.MaxVolume,
			Enabled:      row.Enabled,
		})
	}
	for _, row := range arows {
		src.Aliases = append(src.Aliases, Alias{
			Exchange: row.Exchange,
			Native:   row.NativeSymbol,
			Pair:     Pair(row.CanonicalID),
		})
	}
	return src, nil
}
