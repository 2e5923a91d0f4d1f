// Package stop implements the exit-condition evaluators attached to open
// positions: fixed stops, trailing stops, profit targets, and the
// StopOrder aggregate that combines them with a time stop into one
// per-session verdict.
package stop

import (
	"errors"
	"fmt"

	"github.com/redwookcreek/backtest/internal/domain"
)

var (
	// ErrMismatchLongShort is returned when stops of different
	// directions are combined into one price.
	ErrMismatchLongShort = errors.New("stops mix long and short directions")

	// ErrNoStopPrice is returned when a stop price is read before any
	// price update set it, or when no stops are configured at all.
	ErrNoStopPrice = errors.New("stop price not set")
)

// MaxStopPercent caps how far a stop may sit below the reference price.
// A stop wider than 50% of entry is clamped.
const MaxStopPercent = 0.5

// Stop produces a current exit price for one direction.
type Stop interface {
	Direction() domain.Direction

	// Price returns the current stop price, or ErrNoStopPrice if no
	// price update has set one yet.
	Price() (float64, error)

	// Triggered reports whether the last close breached the stop.
	Triggered(bar domain.Bar) bool
}

// base carries the state shared by every stop flavor.
type base struct {
	dir   domain.Direction
	price float64
	set   bool
}

func (b *base) Direction() domain.Direction { return b.dir }

func (b *base) Price() (float64, error) {
	if !b.set {
		return 0, ErrNoStopPrice
	}
	return b.price, nil
}

func (b *base) Triggered(bar domain.Bar) bool {
	if !b.set {
		return false
	}
	if b.dir == domain.Long {
		return bar.Close <= b.price
	}
	return bar.Close >= b.price
}

// CombinedPrice filters nil stops, requires the rest to share one
// direction, and returns the most favorable-to-the-position price: the
// maximum for longs, the minimum for shorts. Whichever stop has not yet
// been breached wins.
func CombinedPrice(stops ...Stop) (float64, error) {
	var live []Stop
	for _, s := range stops {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return 0, ErrNoStopPrice
	}
	dir := live[0].Direction()
	for _, s := range live[1:] {
		if s.Direction() != dir {
			return 0, fmt.Errorf("combine %s with %s: %w", dir, s.Direction(), ErrMismatchLongShort)
		}
	}
	var combined float64
	found := false
	for _, s := range live {
		p, err := s.Price()
		if err != nil {
			return 0, err
		}
		if !found {
			combined = p
			found = true
			continue
		}
		if dir == domain.Long && p > combined {
			combined = p
		}
		if dir == domain.Short && p < combined {
			combined = p
		}
	}
	return combined, nil
}

// FixStop keeps a constant distance from the opening price, computed
// once at entry. For longs the distance is clamped to MaxStopPercent of
// the opening price.
type FixStop struct {
	base
	diff float64
}

// NewFixStop creates a fixed stop diff price points away from entry.
func NewFixStop(dir domain.Direction, diff float64) *FixStop {
	return &FixStop{base: base{dir: dir}, diff: diff}
}

// SetFromOpen computes the stop price from the position's opening price.
func (s *FixStop) SetFromOpen(open float64) {
	if s.dir == domain.Long {
		s.price = max(open-s.diff, open*(1-MaxStopPercent))
	} else {
		s.price = open + s.diff
	}
	s.set = true
}

// Diff returns the configured stop distance.
func (s *FixStop) Diff() float64 { return s.diff }

func (s *FixStop) String() string {
	return fmt.Sprintf("FixStop(%s, diff=%.4f, price=%.4f)", s.dir, s.diff, s.price)
}

// TrailingStop is a stop that ratchets with the market: up only for
// longs, down only for shorts.
type TrailingStop interface {
	Stop

	// Ratchet advances the stop from the latest price row. It never
	// moves the stop against the position.
	Ratchet(bar domain.Bar)
}

// PercentTrailingStop trails the last close by a fixed percentage.
type PercentTrailingStop struct {
	base
	percent float64
}

func NewPercentTrailingStop(dir domain.Direction, percent float64) *PercentTrailingStop {
	return &PercentTrailingStop{base: base{dir: dir}, percent: percent}
}

func (s *PercentTrailingStop) Ratchet(bar domain.Bar) {
	candidate := bar.Close * (1 - s.percent)
	if s.dir == domain.Short {
		candidate = bar.Close * (1 + s.percent)
	}
	if !s.set {
		s.price = candidate
		s.set = true
		return
	}
	if s.dir == domain.Long && candidate > s.price {
		s.price = candidate
	}
	if s.dir == domain.Short && candidate < s.price {
		s.price = candidate
	}
}

func (s *PercentTrailingStop) String() string {
	return fmt.Sprintf("PercentTrailingStop(%s, percent=%.4f, price=%.4f)", s.dir, s.percent, s.price)
}

// ATRTrailingStop trails the last close by a multiple of the average
// true range. Long stops are additionally floored at MaxStopPercent
// below the last close.
type ATRTrailingStop struct {
	base
	multiple float64
}

func NewATRTrailingStop(dir domain.Direction, multiple float64) *ATRTrailingStop {
	return &ATRTrailingStop{base: base{dir: dir}, multiple: multiple}
}

func (s *ATRTrailingStop) Ratchet(bar domain.Bar) {
	diff := s.multiple * bar.ATR
	var candidate float64
	if s.dir == domain.Long {
		candidate = max(bar.Close-diff, bar.Close*(1-MaxStopPercent))
	} else {
		candidate = bar.Close + diff
	}
	if !s.set {
		s.price = candidate
		s.set = true
		return
	}
	if s.dir == domain.Long && candidate > s.price {
		s.price = candidate
	}
	if s.dir == domain.Short && candidate < s.price {
		s.price = candidate
	}
}

func (s *ATRTrailingStop) String() string {
	return fmt.Sprintf("ATRTrailingStop(%s, multiple=%.4f, price=%.4f)", s.dir, s.multiple, s.price)
}
