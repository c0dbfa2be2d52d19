package markets

import (
	"context"

	"github.com/rs/zerolog"
)

// Options select the metadata sources assembled into a Registry.
type Options struct {
	// DatabaseURL, when set, replaces the compiled-in defaults with the
	// operator metadata store.
	DatabaseURL string
	// MarketsFile, when set, merges a YAML override on top.
	MarketsFile string
}

// Build assembles the registry from defaults, the optional database and
// the optional override file. Any source failure is a startup error.
func Build(ctx context.Context, opts Options, log zerolog.Logger) (*Registry, error) {
	src := Defaults()

	if opts.DatabaseURL != "" {
		dbSrc, err := LoadDB(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info().Int("markets", len(dbSrc.Markets)).Int("aliases", len(dbSrc.Aliases)).
			Msg("loaded market metadata from database")
		src = dbSrc
	}

	if opts.MarketsFile != "" {
		fileSrc, err := LoadFile(opts.MarketsFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", opts.MarketsFile).Int("markets", len(fileSrc.Markets)).
			Msg("merged market override file")
		src = Merge(src, fileSrc)
	}

	reg, err := NewRegistry(src.Markets, src.Aliases)
	if err != nil {
		return nil, err
	}
	log.Info().Int("markets", len(reg.All())).Msg("symbol registry ready")
	return reg, nil
}
