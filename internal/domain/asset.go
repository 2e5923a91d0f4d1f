package domain

import "time"

// Equity identifies a tradable stock. AutoCloseDate, when set, is the
// broker-mandated date after which the position is force-closed outside
// this system's control (contract expiry, delisting).
type Equity struct {
	Symbol        string
	AutoCloseDate time.Time // zero value means no auto close
}

// NewEquity creates an equity without an auto-close date.
func NewEquity(symbol string) Equity {
	return Equity{Symbol: symbol}
}

// ExpiredBy reports whether the asset has passed its auto-close date.
func (e Equity) ExpiredBy(day time.Time) bool {
	return !e.AutoCloseDate.IsZero() && !e.AutoCloseDate.After(day)
}

func (e Equity) String() string {
	return e.Symbol
}

// Position is a broker-reported open position.
type Position struct {
	Asset     Equity
	Amount    int64 // signed share count
	CostBasis float64
}

// Positions is the broker's authoritative open-position book, keyed by
// symbol. Refreshed once per session by the caller.
type Positions map[string]Position

// Bar is one asset's daily price/indicator row. ATR is zero when the
// feature pipeline did not compute one.
type Bar struct {
	Close float64
	ATR   float64
}

// Bars holds one session's rows keyed by symbol.
type Bars map[string]Bar
