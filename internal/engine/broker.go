package engine

import (
	"context"
	"time"

	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/order"
)

// BrokerOrder is a broker-side reference to a submitted order.
type BrokerOrder struct {
	ID     string
	Symbol string
}

// StyleKind selects how an order executes at the broker.
type StyleKind int

const (
	StyleMarket StyleKind = iota
	StyleLimit
	StyleStop
)

// OrderStyle is the execution style attached to a share order.
type OrderStyle struct {
	Kind  StyleKind
	Price float64 // limit or stop price; unused for market
}

// MarketStyle executes at the next available price.
func MarketStyle() OrderStyle { return OrderStyle{Kind: StyleMarket} }

// LimitStyle executes only at price or better.
func LimitStyle(price float64) OrderStyle { return OrderStyle{Kind: StyleLimit, Price: price} }

// StopStyle rests at the broker and executes once price is breached.
func StopStyle(price float64) OrderStyle { return OrderStyle{Kind: StyleStop, Price: price} }

// Broker abstracts the order-placement collaborator. Implementations
// invoke the fill callback synchronously during or immediately after
// submission within the same session.
type Broker interface {
	// PlaceOrder submits a signed share quantity and returns the broker
	// order id.
	PlaceOrder(ctx context.Context, asset domain.Equity, amount int64, style OrderStyle) (string, error)

	// PlacePercentTargetOrder submits an order targeting a signed
	// portfolio weight.
	PlacePercentTargetOrder(ctx context.Context, asset domain.Equity, weight float64) (string, error)

	// OpenOrders returns currently open broker orders grouped by symbol.
	OpenOrders(ctx context.Context) (map[string][]BrokerOrder, error)

	// CancelOrder cancels one open broker order.
	CancelOrder(ctx context.Context, bo BrokerOrder) error

	// CurrentDate is the broker's notion of the session date.
	CurrentDate() time.Time
}

// ReplaySink records completed open/close trade pairs for later
// analysis. The open and close legs of one round trip are linked by the
// order's stable identity, not the broker order id.
type ReplaySink interface {
	AddOpenOrder(openDate time.Time, openPrice float64, o *order.Order) error
	AddCloseOrder(o *order.Order, closeDate time.Time, closePrice float64) error
}
