package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"arbitrage.watch/arbitrage"
	"arbitrage.watch/clients/bingx"
	"arbitrage.watch/clients/common"
	"arbitrage.watch/clients/lbank"
	"arbitrage.watch/clients/ramzinex"
	"arbitrage.watch/clients/tabdeal"
	"arbitrage.watch/clients/wallex"
	"arbitrage.watch/config"
	"arbitrage.watch/hub"
	"arbitrage.watch/markets"
	"arbitrage.watch/orderbook"
	"arbitrage.watch/redis"
)

// serve wires the whole pipeline and blocks until SIGINT or SIGTERM.
// Every task hangs off one context; a task failing for any reason other
// than that context tears the rest down instead of leaving a half-dead
// process behind.
func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	reg, err := markets.Build(ctx, markets.Options{
		DatabaseURL: cfg.DatabaseURL,
		MarketsFile: cfg.MarketsFile,
	}, log)
	if err != nil {
		return err
	}

	store := orderbook.NewStore()
	cache := arbitrage.NewCache(cfg.OpportunityTTL, log)
	detector := arbitrage.NewDetector(store, reg, cache, log, cfg.MinProfitPercent, cfg.WorkerCount)

	stats := hub.StatsSource(hub.NewLocalStats(store, cache))
	var mirror *redis.Mirror
	if cfg.Redis.Enabled() {
		mirror = redis.NewMirror(redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, store, cache, log)
		if err := mirror.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr()).
				Msg("redis unreachable, mirroring degraded until it recovers")
		}
		stats = mirror
	}

	h := hub.New(store, cache, reg, log, hub.Options{
		MaxSessions: cfg.MaxConnections,
		Stats:       stats,
	})
	srv := hub.NewServer(cfg.ListenAddr, h, log)

	collectors, err := buildCollectors(cfg, store, reg, log, h.PublishStatus)
	if err != nil {
		return err
	}
	if len(collectors) == 0 {
		return errors.New("no exchange has mapped markets, nothing to collect")
	}

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("task", name).Msg("task failed")
				select {
				case errc <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	start("cache", cache.Run)
	start("detector", detector.Run)
	start("hub", h.Run)
	start("http", srv.Run)
	if mirror != nil {
		start("mirror", mirror.Run)
	}
	for _, c := range collectors {
		start(c.Name(), c.Run)
	}

	log.Info().
		Str("addr", cfg.ListenAddr).
		Int("collectors", len(collectors)).
		Int("markets", len(reg.All())).
		Msg("pipeline up")

	<-ctx.Done()
	stop() // a second signal kills the process the hard way
	log.Info().Msg("shutting down")
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

// buildCollectors constructs one collector per configured venue. A venue
// with no mapped markets is skipped with a warning so a thin markets file
// does not keep the rest of the pipeline from running.
func buildCollectors(cfg *config.Config, store *orderbook.Store, reg *markets.Registry, log zerolog.Logger, onStatus common.StatusFunc) ([]common.Collector, error) {
	out := make([]common.Collector, 0, len(config.Venues))
	for _, venue := range config.Venues {
		if len(reg.ForExchange(venue)) == 0 {
			log.Warn().Str("exchange", venue).Msg("no markets mapped, collector skipped")
			continue
		}
		base := common.NewBase(venue, store, reg, log, onStatus)

		var (
			c   common.Collector
			err error
		)
		switch venue {
		case "bingx":
			c, err = bingx.New(base, bingx.Options{APIKey: cfg.APIKeys[venue]})
		case "wallex":
			c, err = wallex.New(base, wallex.Options{})
		case "ramzinex":
			c, err = ramzinex.New(base, ramzinex.Options{})
		case "lbank":
			c, err = lbank.New(base, lbank.Options{})
		case "tabdeal":
			c, err = tabdeal.New(base, tabdeal.Options{})
		default:
			log.Warn().Str("exchange", venue).Msg("venue has no collector")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", venue, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// newLogger builds the process logger. Without LOG_FILE the output is a
// console stream on stderr; with it, JSON lines go to a rotating file
// bounded by LOG_MAX_SIZE and LOG_BACKUP_COUNT.
func newLogger(cfg *config.Config) zerolog.Logger {
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackupCount,
		}
	}
	return zerolog.New(w).Level(cfg.Level()).With().Timestamp().Logger()
}
