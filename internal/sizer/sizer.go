// Package sizer turns open signals into share orders with attached stop
// aggregates, sized by fraction-of-equity risk.
package sizer

import (
	"errors"
	"fmt"

	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/order"
	"github.com/redwookcreek/backtest/internal/stop"
)

var (
	// ErrCloseSignal is returned when a close signal reaches a sizer.
	// Closing is the position manager's job.
	ErrCloseSignal = errors.New("close signals are not sized")

	// ErrNoPriceRow is returned when a signal's asset has no price data.
	ErrNoPriceRow = errors.New("no price row for signal")
)

// Signal is an abstract trade intent from the feature pipeline, before
// sizing. A zero limit price means open at market.
type Signal struct {
	Asset      domain.Equity
	Action     domain.Action
	Direction  domain.Direction
	LimitPrice float64
}

// Params are the sizing and stop knobs of one strategy.
type Params struct {
	// FractionRisk is the fraction of portfolio value risked per
	// position, measured to the initial stop.
	FractionRisk float64

	// MaxEquityPerPosition caps a position's notional as a fraction of
	// portfolio value.
	MaxEquityPerPosition float64

	// StopLossATRMultiple sets the initial stop distance in ATRs.
	StopLossATRMultiple float64

	// TimeStopDays force-closes after N sessions; 0 disables.
	TimeStopDays int

	// TargetPercent attaches a percent profit target; 0 disables.
	TargetPercent float64

	// TrailingATRMultiple attaches an ATR trailing stop; 0 disables.
	TrailingATRMultiple float64

	// TrailingPercent attaches a percent trailing stop when no ATR
	// trailing stop is configured; 0 disables.
	TrailingPercent float64
}

// Sizer produces sized orders from signals.
type Sizer interface {
	Orders(portfolioValue float64, signals []Signal, data domain.Bars) ([]*order.Order, error)
}

// ATRSizer sizes positions off the ATR-derived stop distance: risk a
// fixed fraction of equity to the stop, capped by a max position weight.
type ATRSizer struct {
	params Params
}

func NewATRSizer(params Params) *ATRSizer {
	return &ATRSizer{params: params}
}

// Orders implements Sizer. Only open signals are accepted.
func (s *ATRSizer) Orders(portfolioValue float64, signals []Signal, data domain.Bars) ([]*order.Order, error) {
	var orders []*order.Order
	for _, sig := range signals {
		if sig.Action == domain.Close {
			return nil, fmt.Errorf("%s: %w", sig.Asset, ErrCloseSignal)
		}
		bar, ok := data[sig.Asset.Symbol]
		if !ok {
			return nil, fmt.Errorf("%s: %w", sig.Asset, ErrNoPriceRow)
		}
		diff := s.params.StopLossATRMultiple * bar.ATR
		amount := s.amount(portfolioValue, bar.Close, diff)
		if amount <= 0 {
			continue
		}

		o := order.NewShareOrder(sig.Asset, sig.Action, sig.Direction, amount, sig.LimitPrice)

		var target stop.ProfitTarget
		if s.params.TargetPercent > 0 {
			target = stop.NewPercentProfitTarget(sig.Direction, s.params.TargetPercent)
		}
		var trailing stop.TrailingStop
		if s.params.TrailingATRMultiple > 0 {
			trailing = stop.NewATRTrailingStop(sig.Direction, s.params.TrailingATRMultiple)
		} else if s.params.TrailingPercent > 0 {
			trailing = stop.NewPercentTrailingStop(sig.Direction, s.params.TrailingPercent)
		}
		o.AddStop(stop.NewStopOrder(
			stop.NewFixStop(sig.Direction, diff),
			s.params.TimeStopDays,
			target,
			trailing,
		))
		orders = append(orders, o)
	}
	return orders, nil
}

// amount risks FractionRisk of equity to the stop distance, capped at
// MaxEquityPerPosition of equity in notional.
func (s *ATRSizer) amount(portfolioValue, price, riskDiff float64) int64 {
	if riskDiff <= 0 || price <= 0 {
		return 0
	}
	byRisk := int64(portfolioValue * s.params.FractionRisk / riskDiff)
	byEquity := int64(portfolioValue * s.params.MaxEquityPerPosition / price)
	return min(byRisk, byEquity)
}
