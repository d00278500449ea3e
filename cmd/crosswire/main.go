package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/crosswire-trading/crosswire/internal/config"
	"github.com/crosswire-trading/crosswire/internal/engine"
	"github.com/crosswire-trading/crosswire/internal/journal"
	"github.com/crosswire-trading/crosswire/internal/venue"
	"github.com/crosswire-trading/crosswire/internal/venue/aevo"
	"github.com/crosswire-trading/crosswire/internal/venue/dydx"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Printf("crosswire starting (aevo=%s dydx=%s persistent=%v)",
		cfg.Aevo.Symbol, cfg.DyDx.Symbol, cfg.PersistentTrades)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	aevoWS := venue.NewWSClient(venue.DefaultWSConfig("aevo", cfg.Aevo.URL))
	dydxWS := venue.NewWSClient(venue.DefaultWSConfig("dydx", cfg.DyDx.URL))

	aevoAdapter := aevo.New(aevoWS, cfg.Aevo.Symbol, cfg.Aevo.Fee, cfg.PersistentTrades)
	dydxAdapter := dydx.New(dydxWS, cfg.DyDx.Symbol, cfg.DyDx.Fee, cfg.PersistentTrades)

	health := venue.NewHealth(venue.DefaultHealthConfig())
	health.Watch(aevoAdapter.Name(), aevoWS)
	health.Watch(dydxAdapter.Name(), dydxWS)

	venues := []venue.Venue{aevoAdapter, dydxAdapter}
	mux := engine.NewMux(venues...)

	wallets := []*engine.Wallet{
		engine.NewWallet(cfg.StartingValue, cfg.Aevo.Fee),
		engine.NewWallet(cfg.StartingValue, cfg.DyDx.Fee),
	}

	eng := engine.New(mux, venues, wallets, health, cfg.StartingValue)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return connect(ctx, aevoWS, aevoAdapter.Subscribe)
	})
	g.Go(func() error {
		return connect(ctx, dydxWS, dydxAdapter.Subscribe)
	})

	g.Go(func() error { aevoAdapter.Run(ctx); return nil })
	g.Go(func() error { dydxAdapter.Run(ctx); return nil })
	g.Go(func() error { mux.Run(ctx); return nil })
	g.Go(func() error { eng.Run(ctx); return nil })

	if cfg.Redis.Enabled {
		client := journal.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		j := journal.New(client,
			[]string{aevoAdapter.Name(), dydxAdapter.Name()},
			mux.Tap(), eng.Trades())
		g.Go(func() error { j.Run(ctx); return nil })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "crosswire exited: %v\n", err)
		os.Exit(1)
	}
	log.Printf("crosswire shutting down")
}

// connect brings up a venue feed and sends its subscription handshake.
// Resubscription after reconnects is handled by the adapters themselves.
func connect(ctx context.Context, ws *venue.WSClient, subscribe func()) error {
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	subscribe()
	return nil
}
