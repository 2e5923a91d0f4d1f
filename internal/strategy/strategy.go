// Package strategy turns daily bars into trade intents. Strategies only
// decide entries and discretionary exits; stop-driven exits belong to
// the position manager.
package strategy

import (
	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/sizer"
)

// Strategy consumes one session of bars and emits unsized signals.
// Implementations are stateful and must be fed every session in order.
type Strategy interface {
	OnSessionData(data domain.Bars) []sizer.Signal
}
