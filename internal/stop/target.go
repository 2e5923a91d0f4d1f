package stop

import (
	"errors"
	"fmt"

	"github.com/redwookcreek/backtest/internal/domain"
)

// ErrNoTarget is returned when a profit target is read before the
// opening price set it.
var ErrNoTarget = errors.New("profit target not set")

// ProfitTarget is a price level at which a position is closed to lock in
// gains.
type ProfitTarget interface {
	Direction() domain.Direction

	// SetFromOpen computes the target from the position's opening price.
	SetFromOpen(open float64)

	// Target returns the target price, or ErrNoTarget if SetFromOpen
	// has not run yet.
	Target() (float64, error)

	// Reached reports whether the last close reached the target.
	Reached(bar domain.Bar) bool
}

type baseTarget struct {
	dir    domain.Direction
	target float64
	set    bool
}

func (t *baseTarget) Direction() domain.Direction { return t.dir }

func (t *baseTarget) Target() (float64, error) {
	if !t.set {
		return 0, ErrNoTarget
	}
	return t.target, nil
}

func (t *baseTarget) Reached(bar domain.Bar) bool {
	if !t.set {
		return false
	}
	if t.dir == domain.Long {
		return bar.Close >= t.target
	}
	return bar.Close <= t.target
}

// PercentProfitTarget sits a fixed percentage away from the opening
// price, in the position's favor.
type PercentProfitTarget struct {
	baseTarget
	percent float64
}

func NewPercentProfitTarget(dir domain.Direction, percent float64) *PercentProfitTarget {
	return &PercentProfitTarget{baseTarget: baseTarget{dir: dir}, percent: percent}
}

func (t *PercentProfitTarget) SetFromOpen(open float64) {
	t.target = open * (1 + float64(t.dir.Sign())*t.percent)
	t.set = true
}

func (t *PercentProfitTarget) String() string {
	return fmt.Sprintf("PercentProfitTarget(%s, percent=%.4f, target=%.4f)", t.dir, t.percent, t.target)
}

// FixedProfitTarget sits a fixed price distance away from the opening
// price. Sizers typically derive the distance from an ATR multiple.
type FixedProfitTarget struct {
	baseTarget
	diff float64
}

func NewFixedProfitTarget(dir domain.Direction, diff float64) *FixedProfitTarget {
	return &FixedProfitTarget{baseTarget: baseTarget{dir: dir}, diff: diff}
}

func (t *FixedProfitTarget) SetFromOpen(open float64) {
	t.target = open + float64(t.dir.Sign())*t.diff
	t.set = true
}

func (t *FixedProfitTarget) String() string {
	return fmt.Sprintf("FixedProfitTarget(%s, diff=%.4f, target=%.4f)", t.dir, t.diff, t.target)
}
