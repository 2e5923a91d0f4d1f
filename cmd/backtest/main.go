// Command backtest runs a demo backtest session loop: a simulated
// broker, the position manager, an SMA-cross strategy sized by ATR risk
// and synthetic daily bars, with round trips written to CSV and SQLite
// at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redwookcreek/backtest/internal/broker"
	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/engine"
	"github.com/redwookcreek/backtest/internal/infra"
	"github.com/redwookcreek/backtest/internal/order"
	"github.com/redwookcreek/backtest/internal/replay"
	"github.com/redwookcreek/backtest/internal/sizer"
	"github.com/redwookcreek/backtest/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("backtest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *infra.Config) error {
	collector := replay.NewCollector(cfg.Strategy.Name)
	sim := broker.NewSim(log, cfg.Backtest.StartCash)
	manager := engine.NewPositionManager(log, sim, collector)
	sim.OnFill(manager.OnOrderFilled)

	atrSizer := sizer.NewATRSizer(sizer.Params{
		FractionRisk:         cfg.Strategy.FractionRisk,
		MaxEquityPerPosition: cfg.Strategy.MaxEquityPerPosition,
		StopLossATRMultiple:  cfg.Strategy.StopLossATRMultiple,
		TimeStopDays:         cfg.Strategy.TimeStopDays,
		TargetPercent:        cfg.Strategy.TargetPercent,
		TrailingATRMultiple:  cfg.Strategy.TrailingATRMultiple,
		TrailingPercent:      cfg.Strategy.TrailingPercent,
	})

	strat := strategy.NewSMACross(cfg.Strategy.ShortSMAPeriod, cfg.Strategy.LongSMAPeriod)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	log.Info("backtest starting",
		slog.String("strategy", cfg.Strategy.Name),
		slog.Int("sessions", cfg.Backtest.Sessions),
		slog.Float64("start_cash", cfg.Backtest.StartCash))

	for day := 0; day < cfg.Backtest.Sessions; day++ {
		if err := ctx.Err(); err != nil {
			log.Warn("backtest interrupted", slog.Any("error", err))
			break
		}
		today := start.AddDate(0, 0, day)
		data := syntheticBars(cfg.Strategy.Symbols, day)
		sim.SetDate(today)
		sim.MarkPrices(data)

		positions := sim.Positions()
		if err := manager.DoMaintenance(ctx, today, positions, data); err != nil {
			return fmt.Errorf("session %s maintenance: %w", today.Format("2006-01-02"), err)
		}

		opens, closeOrders := splitSignals(strat.OnSessionData(data), positions)
		if len(closeOrders) > 0 {
			if err := manager.SendOrders(ctx, closeOrders); err != nil {
				return fmt.Errorf("session %s close orders: %w", today.Format("2006-01-02"), err)
			}
		}
		if len(opens) > 0 {
			orders, err := atrSizer.Orders(sim.PortfolioValue(), opens, data)
			if err != nil {
				return fmt.Errorf("session %s sizing: %w", today.Format("2006-01-02"), err)
			}
			if err := manager.SendOrders(ctx, orders); err != nil {
				return fmt.Errorf("session %s send orders: %w", today.Format("2006-01-02"), err)
			}
		}

		if err := sim.FillOpenOrders(ctx); err != nil {
			return fmt.Errorf("session %s fills: %w", today.Format("2006-01-02"), err)
		}

		log.Info("session done",
			slog.String("date", today.Format("2006-01-02")),
			slog.Int("positions", len(sim.Positions())),
			slog.Float64("portfolio_value", sim.PortfolioValue()))
	}

	return writeResults(ctx, log, cfg, collector)
}

// splitSignals keeps open signals for symbols not currently held and
// turns close signals for held symbols into full-size closing orders.
// Everything else is dropped.
func splitSignals(signals []sizer.Signal, positions domain.Positions) ([]sizer.Signal, []*order.Order) {
	var opens []sizer.Signal
	var closes []*order.Order
	for _, sig := range signals {
		pos, held := positions[sig.Asset.Symbol]
		switch sig.Action {
		case domain.Open:
			if !held {
				opens = append(opens, sig)
			}
		case domain.Close:
			if !held {
				continue
			}
			if pos.Amount < 0 {
				closes = append(closes, order.CloseShort(pos.Asset, -pos.Amount))
			} else {
				closes = append(closes, order.CloseLong(pos.Asset, pos.Amount))
			}
		}
	}
	return opens, closes
}

// syntheticBars generates a slow ramp with a sine wiggle so that stops,
// targets and trailing ratchets all get exercised.
func syntheticBars(symbols []string, day int) domain.Bars {
	bars := make(domain.Bars, len(symbols))
	for i, sym := range symbols {
		base := 100.0 + 10.0*float64(i)
		price := base + 0.5*float64(day) + 3.0*math.Sin(float64(day)/4)
		bars[sym] = domain.Bar{Close: price, ATR: 1.5 + 0.1*float64(i)}
	}
	return bars
}

func writeResults(ctx context.Context, log *slog.Logger, cfg *infra.Config, collector *replay.Collector) error {
	trips := collector.RoundTrips()
	log.Info("backtest finished", slog.Int("round_trips", len(trips)))

	if cfg.Backtest.CSVPath != "" {
		f, err := os.Create(cfg.Backtest.CSVPath)
		if err != nil {
			return fmt.Errorf("create csv: %w", err)
		}
		defer f.Close()
		if err := collector.WriteCSV(f); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		log.Info("round trips written", slog.String("path", cfg.Backtest.CSVPath))
	}

	if cfg.Backtest.DBPath != "" {
		store, err := replay.NewStore(cfg.Backtest.DBPath)
		if err != nil {
			return fmt.Errorf("open round-trip store: %w", err)
		}
		defer store.Close()
		if err := store.SaveAll(ctx, cfg.Strategy.Name, trips); err != nil {
			return fmt.Errorf("save round trips: %w", err)
		}
		log.Info("round trips saved", slog.String("path", cfg.Backtest.DBPath))
	}
	return nil
}
