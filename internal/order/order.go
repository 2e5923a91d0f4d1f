// Package order holds the trade-intent value objects handed to the
// broker: share-quantity orders and percent-of-portfolio orders, with
// their sign arithmetic and opposite-order derivation.
package order

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/stop"
)

var (
	// ErrNoOppositeOrder is returned when an opposite order is derived
	// for an action with no defined inverse.
	ErrNoOppositeOrder = errors.New("order has no opposite")

	// ErrOppositeNotImplemented is returned for percent orders, which
	// only ever open positions.
	ErrOppositeNotImplemented = errors.New("opposite order not implemented for percent orders")
)

// Kind distinguishes the two order flavors.
type Kind int

const (
	// KindShare orders trade an unsigned share amount.
	KindShare Kind = iota + 1
	// KindPercent orders target a portfolio weight. Open-only.
	KindPercent
)

// Order is a trade intent. The amount and target percent are unsigned;
// the signed trade quantity is derived via Sign. ID is stable across the
// open and close legs of a round trip, unlike the broker order id which
// changes per submission.
type Order struct {
	ID        string
	Asset     domain.Equity
	Action    domain.Action
	Direction domain.Direction

	// LimitPrice is the intended open price; zero means market. Some
	// signals only open when the price reaches the limit next session.
	LimitPrice float64

	Kind          Kind
	Amount        int64   // share orders
	TargetPercent float64 // percent orders

	Stop *stop.StopOrder

	barCount int
}

func newOrder(asset domain.Equity, action domain.Action, dir domain.Direction, kind Kind) *Order {
	return &Order{
		ID:        uuid.NewString(),
		Asset:     asset,
		Action:    action,
		Direction: dir,
		Kind:      kind,
	}
}

// NewShareOrder creates a share-quantity order. A zero limit price means
// a market order.
func NewShareOrder(asset domain.Equity, action domain.Action, dir domain.Direction, amount int64, limitPrice float64) *Order {
	o := newOrder(asset, action, dir, KindShare)
	o.Amount = amount
	o.LimitPrice = limitPrice
	return o
}

// NewPercentOrder creates an order targeting a portfolio weight. Used
// only to open or adjust long positions sized by the caller.
func NewPercentOrder(asset domain.Equity, dir domain.Direction, percent float64, adjust bool) *Order {
	action := domain.Open
	if adjust {
		action = domain.Adjust
	}
	o := newOrder(asset, action, dir, KindPercent)
	o.TargetPercent = percent
	return o
}

// OpenLong is shorthand for a market open of a long position.
func OpenLong(asset domain.Equity, amount int64) *Order {
	return NewShareOrder(asset, domain.Open, domain.Long, amount, 0)
}

// OpenShort is shorthand for a market open of a short position.
func OpenShort(asset domain.Equity, amount int64) *Order {
	return NewShareOrder(asset, domain.Open, domain.Short, amount, 0)
}

// CloseLong is shorthand for a market close of a long position.
func CloseLong(asset domain.Equity, amount int64) *Order {
	return NewShareOrder(asset, domain.Close, domain.Long, amount, 0)
}

// CloseShort is shorthand for a market close of a short position.
func CloseShort(asset domain.Equity, amount int64) *Order {
	return NewShareOrder(asset, domain.Close, domain.Short, amount, 0)
}

// Sign converts the unsigned amount or weight into a signed trade
// quantity factor: open-long and close-short trade positive, close-long
// and open-short negative.
func (o *Order) Sign() int64 {
	return o.Action.Sign() * o.Direction.Sign()
}

// Opposite derives the order that undoes this one: Open flips to Close
// and vice versa, direction, amount and bar count carry over, and the
// round-trip identity is preserved. keepStop and keepLimit control
// whether the stop aggregate and limit price carry over.
func (o *Order) Opposite(keepStop, keepLimit bool) (*Order, error) {
	if o.Kind == KindPercent {
		return nil, fmt.Errorf("%s %s: %w", o.Asset, o.Action, ErrOppositeNotImplemented)
	}
	var action domain.Action
	switch o.Action {
	case domain.Open:
		action = domain.Close
	case domain.Close:
		action = domain.Open
	default:
		return nil, fmt.Errorf("action %s: %w", o.Action, ErrNoOppositeOrder)
	}
	opp := &Order{
		ID:        o.ID,
		Asset:     o.Asset,
		Action:    action,
		Direction: o.Direction,
		Kind:      o.Kind,
		Amount:    o.Amount,
		barCount:  o.barCount,
	}
	if keepStop {
		opp.Stop = o.Stop
	}
	if keepLimit {
		opp.LimitPrice = o.LimitPrice
	}
	return opp, nil
}

// AddStop attaches a stop aggregate. An order owns at most one.
func (o *Order) AddStop(s *stop.StopOrder) { o.Stop = s }

// BarCount returns the sessions this order has represented an open
// position.
func (o *Order) BarCount() int { return o.barCount }

// IncBarCount advances the session counter.
func (o *Order) IncBarCount() { o.barCount++ }

// PercentSize returns the target weight for percent orders, zero
// otherwise. Recorded on round trips for replay sizing.
func (o *Order) PercentSize() float64 {
	if o.Kind == KindPercent {
		return o.TargetPercent
	}
	return 0
}

// InitialStopDiff returns the configured fixed-stop distance, zero when
// the order carries no initial stop. Recorded on round trips.
func (o *Order) InitialStopDiff() float64 {
	if o.Stop == nil {
		return 0
	}
	if initial := o.Stop.Initial(); initial != nil {
		return initial.Diff()
	}
	return 0
}

// Equal compares orders by value over every field except the round-trip
// identity; the stop aggregate is compared by reference.
func (o *Order) Equal(other *Order) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Asset == other.Asset &&
		o.Action == other.Action &&
		o.Direction == other.Direction &&
		o.LimitPrice == other.LimitPrice &&
		o.Kind == other.Kind &&
		o.Amount == other.Amount &&
		o.TargetPercent == other.TargetPercent &&
		o.Stop == other.Stop
}

func (o *Order) String() string {
	switch o.Kind {
	case KindPercent:
		return fmt.Sprintf("PercentOrder(%s, %s, %s, %.1f%%)",
			o.Asset, o.Action, o.Direction, o.TargetPercent*100)
	default:
		return fmt.Sprintf("ShareOrder(%s, %s, %s, %d, limit=%.2f, stop=%v)",
			o.Asset, o.Action, o.Direction, o.Amount, o.LimitPrice, o.Stop)
	}
}
