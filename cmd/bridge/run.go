package main

import (
	"context"
	"errors"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/broker"
	"github.com/rustyeddy/bridge/broker/sim"
	"github.com/rustyeddy/bridge/config"
	"github.com/rustyeddy/bridge/engine"
	"github.com/rustyeddy/bridge/events"
	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/logging"
	"github.com/rustyeddy/bridge/market"
	"github.com/rustyeddy/bridge/strategy"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run evaluation cycles against the simulated broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "./bridge.yaml", "path to config file")
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ttl, err := cfg.QuoteTTL()
	if err != nil {
		return err
	}
	staleAfter, err := cfg.StaleAfter()
	if err != nil {
		return err
	}
	interval, err := cfg.CycleInterval()
	if err != nil {
		return err
	}

	store, err := ledger.OpenStore(cfg.Ledger.DBPath)
	if err != nil {
		return err
	}
	defer store.CloseDB()

	gw := sim.New(broker.Account{
		ID:       cfg.Account.ID,
		Currency: cfg.Account.SettlementCurrency,
		Balance:  cfg.Sim.Balance,
		Equity:   cfg.Sim.Balance,
	})
	for _, q := range cfg.Sim.Quotes {
		gw.SetQuote(q.Instrument, q.Bid, q.Ask, time.Now())
	}

	var pub events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		natsPub, err := events.NewNATS(cfg.Account.ID, cfg.Events.NATSURLs, log)
		if err != nil {
			return err
		}
		defer natsPub.Close()
		pub = natsPub
	}

	quotes := market.NewCache(gw, ttl)
	converter := market.NewConverter(quotes, cfg.Account.SettlementCurrency)

	source, err := buildScript(cfg)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Params{
		Ledger:       store,
		Quotes:       quotes,
		Converter:    converter,
		Gateway:      gw,
		Publisher:    pub,
		Equity:       store,
		ContractSize: cfg.Engine.ContractSize,
		StaleAfter:   staleAfter,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	// Orders from instances no longer configured are dead weight.
	if err := eng.PurgeOrphans(cfg.Instances); err != nil {
		return err
	}

	log.Info("bridge running",
		zap.String("account", cfg.Account.ID),
		zap.Strings("instances", cfg.Instances),
		zap.Duration("cycle_interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			driftQuotes(ctx, gw, quotes, cfg.Sim.Quotes, rng)

			for _, instance := range cfg.Instances {
				actions, err := source.Actions(ctx, instance)
				if err != nil {
					log.Warn("strategy source failed", zap.String("instance", instance), zap.Error(err))
				}
				if err := eng.RunCycle(ctx, instance, actions); err != nil {
					if errors.Is(err, engine.ErrCycleInProgress) {
						continue
					}
					if errors.Is(err, ledger.ErrLedgerCorruption) {
						return err
					}
					log.Warn("cycle failed", zap.String("instance", instance), zap.Error(err))
				}
			}
		}
	}
}

// buildScript turns the config's sim script into the Source driving the
// run loop. An empty script yields no actions, so the engine still cycles
// through triggers and reconciliation.
func buildScript(cfg *config.Config) (strategy.Source, error) {
	script := strategy.NewScript()
	for _, a := range cfg.Sim.Script {
		kind, err := strategy.ParseKind(a.Action)
		if err != nil {
			return nil, err
		}
		script.Add(a.Instance, strategy.Action{
			Kind:       kind,
			Instrument: a.Instrument,
			Volume:     a.Volume,
			Price:      a.Price,
			SLDistance: a.SLDistance,
			TPDistance: a.TPDistance,
		})
	}
	return script, nil
}

// driftQuotes nudges each sim price a few basis points around its mid so
// successive cycles see movement, and drops the cached entry so the new
// price shows up immediately instead of after the TTL.
func driftQuotes(ctx context.Context, gw *sim.Sim, quotes *market.Cache, seeded []config.SimQuoteConfig, rng *rand.Rand) {
	for _, q := range seeded {
		cur, err := gw.GetQuote(ctx, q.Instrument)
		if err != nil {
			continue
		}
		mid := cur.Mid()
		spread := cur.Ask - cur.Bid
		mid += mid * (rng.Float64() - 0.5) * 0.0002
		gw.SetQuote(q.Instrument, mid-spread/2, mid+spread/2, time.Now())
		quotes.Invalidate(q.Instrument)
	}
}
