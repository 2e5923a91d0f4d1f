package stop

import (
	"fmt"

	"github.com/redwookcreek/backtest/internal/domain"
)

// StopOrder aggregates every exit condition attached to one position:
//
//  1. an optional initial fixed stop, set once from the opening price
//  2. an optional trailing stop that ratchets with the market
//  3. an optional time stop that fires after N sessions
//  4. an optional profit target
//
// A mean-reversion position typically carries an initial stop, a time
// stop and a profit target; a trend-following one an initial stop and a
// trailing stop. One aggregate can carry all four.
type StopOrder struct {
	initial  *FixStop
	trailing TrailingStop
	target   ProfitTarget
	timeStop int // sessions; 0 disables
	barCount int
}

// NewStopOrder builds an aggregate. Any of initial, trailing and target
// may be nil; timeStop of zero disables the time stop.
func NewStopOrder(initial *FixStop, timeStop int, target ProfitTarget, trailing TrailingStop) *StopOrder {
	return &StopOrder{
		initial:  initial,
		trailing: trailing,
		target:   target,
		timeStop: timeStop,
	}
}

// DoMaintenance runs once per session before market open: it refreshes
// the profit target and initial stop from the position's opening price,
// ratchets the trailing stop from the latest price row, then advances
// the bar count.
func (o *StopOrder) DoMaintenance(openPrice float64, bar domain.Bar) {
	o.UpdateWithOpenPrice(openPrice)
	o.UpdateStops(bar)
	o.IncrBarCount()
}

// UpdateWithOpenPrice refreshes the entry-anchored conditions.
func (o *StopOrder) UpdateWithOpenPrice(openPrice float64) {
	if o.target != nil {
		o.target.SetFromOpen(openPrice)
	}
	if o.initial != nil {
		o.initial.SetFromOpen(openPrice)
	}
}

// UpdateStops ratchets the trailing stop from the latest price row.
func (o *StopOrder) UpdateStops(bar domain.Bar) {
	if o.trailing != nil {
		o.trailing.Ratchet(bar)
	}
}

// IncrBarCount advances the session counter.
func (o *StopOrder) IncrBarCount() { o.barCount++ }

// BarCount returns the number of sessions since entry.
func (o *StopOrder) BarCount() int { return o.barCount }

// Initial returns the initial fixed stop, nil when absent.
func (o *StopOrder) Initial() *FixStop { return o.initial }

// Trailing returns the trailing stop, nil when absent.
func (o *StopOrder) Trailing() TrailingStop { return o.trailing }

// StopPrice combines the trailing and initial stops into one effective
// price: the most favorable-to-the-position of the two.
func (o *StopOrder) StopPrice() (float64, error) {
	var stops []Stop
	if o.trailing != nil {
		stops = append(stops, o.trailing)
	}
	if o.initial != nil {
		stops = append(stops, o.initial)
	}
	return CombinedPrice(stops...)
}

// TargetPrice returns the profit-target price, or ErrNoTarget when no
// target is configured or it is not yet set.
func (o *StopOrder) TargetPrice() (float64, error) {
	if o.target == nil {
		return 0, ErrNoTarget
	}
	return o.target.Target()
}

// Status evaluates the exit conditions against the latest price row.
//
// The priority is fixed and deliberate: time stop, then profit target,
// then initial stop, then trailing stop. Several conditions can be true
// on the same day; the first in this order wins.
func (o *StopOrder) Status(bar domain.Bar) domain.StopStatus {
	if o.timeStop > 0 && o.barCount >= o.timeStop {
		return domain.StatusTimeStop
	}
	if o.target != nil && o.target.Reached(bar) {
		return domain.StatusTargetReached
	}
	if o.initial != nil && o.initial.Triggered(bar) {
		return domain.StatusInitialStop
	}
	if o.trailing != nil && o.trailing.Triggered(bar) {
		return domain.StatusTrailingStop
	}
	return domain.StatusNotTriggered
}

func (o *StopOrder) String() string {
	return fmt.Sprintf("StopOrder(initial=%v, trailing=%v, time_stop=%d, target=%v)",
		o.initial, o.trailing, o.timeStop, o.target)
}
