// Package broker provides a simulated broker for backtests and tests.
// It implements the engine.Broker contract: orders rest until the
// session's fill pass, and fill callbacks run synchronously from it.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/engine"
)

// FillFunc is invoked for every simulated fill.
type FillFunc func(asset domain.Equity, price float64, amount int64, brokerID string) error

type simOrder struct {
	id     string
	asset  domain.Equity
	amount int64 // signed; zero for percent-target orders until sized
	style  engine.OrderStyle

	percent       bool
	targetPercent float64 // signed weight for percent-target orders
}

// Sim is an in-memory broker simulator with a position book, cost-basis
// tracking and a virtual cash balance.
type Sim struct {
	log *slog.Logger
	mu  sync.Mutex

	now       time.Time
	cash      float64
	prices    map[string]float64
	positions domain.Positions
	open      map[string]*simOrder
	onFill    FillFunc
}

// NewSim creates a simulator with the given starting cash.
func NewSim(log *slog.Logger, startCash float64) *Sim {
	return &Sim{
		log:       log,
		cash:      startCash,
		prices:    make(map[string]float64),
		positions: make(domain.Positions),
		open:      make(map[string]*simOrder),
	}
}

// OnFill registers the fill callback. Fills run synchronously inside
// FillOpenOrders.
func (s *Sim) OnFill(fn FillFunc) { s.onFill = fn }

// SetDate advances the simulator's session date.
func (s *Sim) SetDate(day time.Time) {
	s.mu.Lock()
	s.now = day
	s.mu.Unlock()
}

// MarkPrices records the session's closing prices.
func (s *Sim) MarkPrices(bars domain.Bars) {
	s.mu.Lock()
	for sym, bar := range bars {
		s.prices[sym] = bar.Close
	}
	s.mu.Unlock()
}

// CurrentDate implements engine.Broker.
func (s *Sim) CurrentDate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// PortfolioValue is cash plus marked-to-market position value.
func (s *Sim) PortfolioValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.cash
	for sym, pos := range s.positions {
		value += float64(pos.Amount) * s.prices[sym]
	}
	return value
}

// Positions returns a copy of the current position book.
func (s *Sim) Positions() domain.Positions {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := make(domain.Positions, len(s.positions))
	for sym, pos := range s.positions {
		book[sym] = pos
	}
	return book
}

// PlaceOrder implements engine.Broker.
func (s *Sim) PlaceOrder(ctx context.Context, asset domain.Equity, amount int64, style engine.OrderStyle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount == 0 {
		return "", fmt.Errorf("zero amount order for %s", asset)
	}
	id := uuid.NewString()
	s.open[id] = &simOrder{id: id, asset: asset, amount: amount, style: style}
	return id, nil
}

// PlacePercentTargetOrder implements engine.Broker. The order is sized
// at fill time from the portfolio value and current price.
func (s *Sim) PlacePercentTargetOrder(ctx context.Context, asset domain.Equity, weight float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.open[id] = &simOrder{id: id, asset: asset, percent: true, targetPercent: weight, style: engine.MarketStyle()}
	return id, nil
}

// OpenOrders implements engine.Broker.
func (s *Sim) OpenOrders(ctx context.Context) (map[string][]engine.BrokerOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]engine.BrokerOrder)
	for _, so := range s.open {
		sym := so.asset.Symbol
		out[sym] = append(out[sym], engine.BrokerOrder{ID: so.id, Symbol: sym})
	}
	for _, orders := range out {
		sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	}
	return out, nil
}

// CancelOrder implements engine.Broker.
func (s *Sim) CancelOrder(ctx context.Context, bo engine.BrokerOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[bo.ID]; !ok {
		return fmt.Errorf("cancel unknown order %s", bo.ID)
	}
	delete(s.open, bo.ID)
	return nil
}

// FillOpenOrders runs one fill pass against the current prices. Market
// orders fill at the last price; limit orders fill when marketable; stop
// orders fill once the stop price is breached. Fill callbacks run
// synchronously before this returns.
func (s *Sim) FillOpenOrders(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.tryFill(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sim) tryFill(id string) error {
	s.mu.Lock()
	so, ok := s.open[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	price, havePrice := s.prices[so.asset.Symbol]
	if !havePrice {
		s.mu.Unlock()
		s.log.Warn("no price for open order, leaving it resting", slog.String("symbol", so.asset.Symbol))
		return nil
	}

	amount := so.amount
	fillPrice := price
	switch so.style.Kind {
	case engine.StyleLimit:
		// Buy fills at or below the limit, sell at or above.
		if amount > 0 && price > so.style.Price {
			s.mu.Unlock()
			return nil
		}
		if amount < 0 && price < so.style.Price {
			s.mu.Unlock()
			return nil
		}
		fillPrice = so.style.Price
	case engine.StyleStop:
		// Sell stop fires at or below the stop, buy stop at or above.
		if amount < 0 && price > so.style.Price {
			s.mu.Unlock()
			return nil
		}
		if amount > 0 && price < so.style.Price {
			s.mu.Unlock()
			return nil
		}
		fillPrice = so.style.Price
	}

	if so.percent {
		value := s.cash
		for sym, pos := range s.positions {
			value += float64(pos.Amount) * s.prices[sym]
		}
		target := int64(math.Trunc(so.targetPercent * value / price))
		var held int64
		if pos, ok := s.positions[so.asset.Symbol]; ok {
			held = pos.Amount
		}
		amount = target - held
		if amount == 0 {
			delete(s.open, id)
			s.mu.Unlock()
			return nil
		}
	}

	delete(s.open, id)
	s.applyFill(so.asset, fillPrice, amount)
	s.mu.Unlock()

	s.log.Debug("order filled",
		slog.String("broker_id", id),
		slog.String("symbol", so.asset.Symbol),
		slog.Int64("amount", amount),
		slog.Float64("price", fillPrice))
	if s.onFill != nil {
		return s.onFill(so.asset, fillPrice, amount, id)
	}
	return nil
}

// applyFill updates cash and the position book. Cost basis is the
// weighted average while a position grows; it is left untouched while it
// shrinks. Caller holds the lock.
func (s *Sim) applyFill(asset domain.Equity, price float64, amount int64) {
	s.cash -= float64(amount) * price
	sym := asset.Symbol
	pos, ok := s.positions[sym]
	if !ok {
		s.positions[sym] = domain.Position{Asset: asset, Amount: amount, CostBasis: price}
		return
	}
	newAmount := pos.Amount + amount
	if newAmount == 0 {
		delete(s.positions, sym)
		return
	}
	sameSide := (pos.Amount > 0) == (amount > 0)
	if sameSide {
		total := float64(pos.Amount)*pos.CostBasis + float64(amount)*price
		pos.CostBasis = total / float64(newAmount)
	}
	pos.Amount = newAmount
	s.positions[sym] = pos
}
