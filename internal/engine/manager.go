// Package engine contains the position manager: the stateful
// reconciliation core that keeps locally managed orders consistent with
// the broker's position book and turns stop verdicts into closing
// orders, one session at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/order"
	"github.com/redwookcreek/backtest/internal/stop"
)

// Invariant violations. All of them abort the run; none is recoverable.
var (
	// ErrDuplicatePendingOrder: a second order submitted for a stock
	// that already has one pending.
	ErrDuplicatePendingOrder = errors.New("pending order already exists for stock")

	// ErrUnknownFilledOrder: a fill callback references a broker order
	// id that is not pending.
	ErrUnknownFilledOrder = errors.New("fill for unknown order")

	// ErrMismatchedManagedOrders: the managed-order stock set diverged
	// from the broker position book after auto-close reconciliation.
	ErrMismatchedManagedOrders = errors.New("managed orders mismatch broker positions")

	// ErrUnhandledOrder: a pending order neither cancelled nor
	// reflected in current positions nor expired.
	ErrUnhandledOrder = errors.New("unhandled pending order")

	// ErrCloseStockNotInPortfolio: a close order names a stock with no
	// managed position.
	ErrCloseStockNotInPortfolio = errors.New("close order for stock not in portfolio")
)

// PendingOrder is an order submitted to the broker and not yet
// confirmed filled.
type PendingOrder struct {
	Order    *order.Order
	BrokerID string

	// OriginalID is, for close orders, the broker id of the fill that
	// opened the position being closed.
	OriginalID string
}

func (p *PendingOrder) String() string {
	return fmt.Sprintf("PendingOrder(%s, broker_id=%s, original_id=%s)", p.Order, p.BrokerID, p.OriginalID)
}

// PositionManager manages the positions of one strategy.
//
// Before each session it cancels stale pending orders, advances stop
// state with yesterday's prices, closes out positions whose time stop or
// profit target hit, and re-issues broker-side stop orders so the broker
// can exit intraday.
//
// Order life cycle:
//
//	pending --filled--> managed --stop/target/time--> gone
//	pending --not filled--> cancelled
//
// Both tables are keyed by broker order id. Several managed orders may
// exist per stock (split-order strategies); at most one pending order
// per stock exists at a time.
type PositionManager struct {
	log    *slog.Logger
	broker Broker
	replay ReplaySink

	pending map[string]*PendingOrder
	managed map[string]*order.Order
}

// NewPositionManager wires the manager to its collaborators. The logger
// must not be nil; pass slog.Default() if in doubt.
func NewPositionManager(log *slog.Logger, broker Broker, replay ReplaySink) *PositionManager {
	return &PositionManager{
		log:     log,
		broker:  broker,
		replay:  replay,
		pending: make(map[string]*PendingOrder),
		managed: make(map[string]*order.Order),
	}
}

// DoMaintenance runs the daily protocol before market open, in this
// exact order; each step's effects are visible to the next.
func (m *PositionManager) DoMaintenance(ctx context.Context, today time.Time, positions domain.Positions, data domain.Bars) error {
	m.logStatus()
	for _, mo := range m.managed {
		mo.IncBarCount()
	}
	if err := m.verifyManagedOrders(today, positions); err != nil {
		return err
	}
	if err := m.cancelPendingOrders(ctx, today, positions); err != nil {
		return err
	}
	m.adjustStopOrders(positions, data)
	closedIDs, err := m.closeOutPositions(ctx, positions, data)
	if err != nil {
		return err
	}
	if err := m.sendOutStopOrders(ctx, closedIDs); err != nil {
		return err
	}
	return m.recordAutoClosedPositions(today, data)
}

// OnOrderFilled is invoked by the broker when a submitted order fills.
// Close fills drop the managed order they close; open fills promote the
// pending order to a managed one. Both report to the replay sink.
func (m *PositionManager) OnOrderFilled(asset domain.Equity, price float64, amount int64, brokerID string) error {
	po, ok := m.pending[brokerID]
	if !ok {
		return fmt.Errorf("%s amount %d broker id %q: %w", asset, amount, brokerID, ErrUnknownFilledOrder)
	}
	delete(m.pending, brokerID)
	today := m.broker.CurrentDate()
	m.log.Debug("pending order filled",
		slog.String("symbol", asset.Symbol),
		slog.Int64("amount", amount),
		slog.String("broker_id", brokerID))

	if po.Order.Action == domain.Close {
		delete(m.managed, po.OriginalID)
		return m.replay.AddCloseOrder(po.Order, today, price)
	}
	m.managed[brokerID] = po.Order
	return m.replay.AddOpenOrder(today, price, po.Order)
}

// SendOrders submits a batch of sized orders. Close orders are matched
// to the managed orders they close and carry over the round-trip
// identity.
func (m *PositionManager) SendOrders(ctx context.Context, orders []*order.Order) error {
	for _, o := range orders {
		if o.Action == domain.Close {
			matched := false
			for _, id := range m.sortedManagedIDs() {
				mo := m.managed[id]
				if mo.Asset.Symbol != o.Asset.Symbol {
					continue
				}
				matched = true
				if err := m.replacePendingStopOrder(ctx, id); err != nil {
					return err
				}
				closing := *o
				closing.ID = mo.ID
				if _, err := m.makeAndSendPendingOrder(ctx, &closing, false, id); err != nil {
					return err
				}
			}
			if !matched {
				return fmt.Errorf("%s: %w", o.Asset, ErrCloseStockNotInPortfolio)
			}
			continue
		}
		if _, err := m.makeAndSendPendingOrder(ctx, o, false, ""); err != nil {
			return err
		}
	}
	return nil
}

// BarCount returns the sessions since entry for an asset's position, -1
// when the asset is not managed. With several managed orders the oldest
// wins.
func (m *PositionManager) BarCount(asset domain.Equity) int {
	count := -1
	for _, mo := range m.managed {
		if mo.Asset.Symbol == asset.Symbol && mo.BarCount() > count {
			count = mo.BarCount()
		}
	}
	return count
}

// StopPrice reports the effective stop for an asset across its managed
// orders: the nearest one, i.e. the minimum for longs and the maximum
// for shorts. Returns false when no stop price is known.
func (m *PositionManager) StopPrice(asset domain.Equity) (float64, bool) {
	var price float64
	found := false
	for _, mo := range m.managed {
		if mo.Asset.Symbol != asset.Symbol || mo.Stop == nil {
			continue
		}
		p, err := mo.Stop.StopPrice()
		if err != nil {
			continue
		}
		if !found {
			price, found = p, true
			continue
		}
		if mo.Direction == domain.Long && p < price {
			price = p
		}
		if mo.Direction == domain.Short && p > price {
			price = p
		}
	}
	return price, found
}

// TargetPrice reports the first known profit target for an asset.
// Returns false when none is configured.
func (m *PositionManager) TargetPrice(asset domain.Equity) (float64, bool) {
	for _, id := range m.sortedManagedIDs() {
		mo := m.managed[id]
		if mo.Asset.Symbol != asset.Symbol || mo.Stop == nil {
			continue
		}
		if t, err := mo.Stop.TargetPrice(); err == nil {
			return t, true
		}
	}
	return 0, false
}

func (m *PositionManager) sortedManagedIDs() []string {
	ids := make([]string, 0, len(m.managed))
	for id := range m.managed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *PositionManager) logStatus() {
	m.log.Debug("position manager status",
		slog.Int("pending", len(m.pending)),
		slog.Int("managed", len(m.managed)))
}

// managedBySymbol groups managed order ids by stock symbol.
func (m *PositionManager) managedBySymbol() map[string][]string {
	bySymbol := make(map[string][]string)
	for _, id := range m.sortedManagedIDs() {
		sym := m.managed[id].Asset.Symbol
		bySymbol[sym] = append(bySymbol[sym], id)
	}
	return bySymbol
}

// removeExpiredPositions drops managed orders whose asset passed its
// auto-close date and is no longer reported by the broker.
func (m *PositionManager) removeExpiredPositions(today time.Time, positions domain.Positions) {
	for sym, ids := range m.managedBySymbol() {
		asset := m.managed[ids[0]].Asset
		if !asset.ExpiredBy(today) {
			continue
		}
		if _, held := positions[sym]; held {
			continue
		}
		m.log.Info("position passed auto close date, removing", slog.String("symbol", sym))
		for _, id := range ids {
			delete(m.managed, id)
		}
	}
}

// verifyManagedOrders reconciles the managed table against the broker's
// position book. After removing auto-closed assets, the two stock sets
// must match exactly.
func (m *PositionManager) verifyManagedOrders(today time.Time, positions domain.Positions) error {
	m.removeExpiredPositions(today, positions)

	managedSyms := make([]string, 0, len(m.managed))
	for sym := range m.managedBySymbol() {
		managedSyms = append(managedSyms, sym)
	}
	sort.Strings(managedSyms)

	positionSyms := make([]string, 0, len(positions))
	for sym := range positions {
		positionSyms = append(positionSyms, sym)
	}
	sort.Strings(positionSyms)

	if len(managedSyms) != len(positionSyms) {
		return fmt.Errorf("managed %v vs positions %v: %w", managedSyms, positionSyms, ErrMismatchedManagedOrders)
	}
	for i := range managedSyms {
		if managedSyms[i] != positionSyms[i] {
			return fmt.Errorf("managed %v vs positions %v: %w", managedSyms, positionSyms, ErrMismatchedManagedOrders)
		}
	}
	return nil
}

// cancelPendingOrders cancels every open broker order, then audits the
// local pending table: an order that was not cancelled must have filled,
// so its stock must be held or auto-closed. The table is cleared either
// way; the next session starts fresh.
func (m *PositionManager) cancelPendingOrders(ctx context.Context, today time.Time, positions domain.Positions) error {
	openOrders, err := m.broker.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	cancelled := make(map[string]bool)
	for _, orders := range openOrders {
		for _, bo := range orders {
			m.log.Debug("cancelling open broker order",
				slog.String("broker_id", bo.ID), slog.String("symbol", bo.Symbol))
			if err := m.broker.CancelOrder(ctx, bo); err != nil {
				return fmt.Errorf("cancel order %s: %w", bo.ID, err)
			}
			cancelled[bo.ID] = true
		}
	}

	for _, po := range m.pending {
		if cancelled[po.BrokerID] {
			continue
		}
		asset := po.Order.Asset
		if asset.ExpiredBy(today) {
			m.log.Info("pending order asset passed auto close date, dropping",
				slog.String("symbol", asset.Symbol))
			continue
		}
		if _, held := positions[asset.Symbol]; !held {
			return fmt.Errorf("%s: %w", po, ErrUnhandledOrder)
		}
	}

	m.pending = make(map[string]*PendingOrder)
	return nil
}

// adjustStopOrders runs each stop aggregate's daily maintenance using
// the position's cost basis as the opening price.
func (m *PositionManager) adjustStopOrders(positions domain.Positions, data domain.Bars) {
	for _, mo := range m.managed {
		if mo.Stop == nil {
			continue
		}
		sym := mo.Asset.Symbol
		pos, held := positions[sym]
		bar, haveBar := data[sym]
		if !held || !haveBar {
			m.log.Warn("no position or price row for stop maintenance", slog.String("symbol", sym))
			continue
		}
		mo.Stop.DoMaintenance(pos.CostBasis, bar)
	}
}

// closeOutPositions reads each stop verdict. Time stops and reached
// targets synthesize and submit the closing order; initial and trailing
// stops rely on the broker-side stop order placed last session and are
// only logged. Returns the managed ids closed this session.
func (m *PositionManager) closeOutPositions(ctx context.Context, positions domain.Positions, data domain.Bars) ([]string, error) {
	var closedIDs []string
	for _, id := range m.sortedManagedIDs() {
		mo := m.managed[id]
		if mo.Stop == nil {
			continue
		}
		sym := mo.Asset.Symbol
		bar, haveBar := data[sym]
		if !haveBar {
			m.log.Warn("no price row for stop evaluation", slog.String("symbol", sym))
			continue
		}
		status := mo.Stop.Status(bar)
		switch status {
		case domain.StatusInitialStop, domain.StatusTrailingStop:
			m.log.Info("position stopped out", slog.String("symbol", sym), slog.String("status", status.String()))
			if _, held := positions[sym]; held {
				m.log.Warn("stop triggered but position still held", slog.String("symbol", sym))
			}
		case domain.StatusTargetReached, domain.StatusTimeStop:
			m.log.Info("closing out position", slog.String("symbol", sym), slog.String("status", status.String()))
			closing, err := mo.Opposite(false, false)
			if err != nil {
				return nil, fmt.Errorf("close %s: %w", sym, err)
			}
			if _, err := m.makeAndSendPendingOrder(ctx, closing, false, id); err != nil {
				return nil, err
			}
			closedIDs = append(closedIDs, id)
		default:
			m.log.Debug("position not closed out", slog.String("symbol", sym))
		}
	}
	return closedIDs, nil
}

// sendOutStopOrders re-issues a broker-side stop order for every managed
// order with a stop that has no pending close yet and was not closed
// this session, so the broker can execute the exit intraday.
func (m *PositionManager) sendOutStopOrders(ctx context.Context, closedIDs []string) error {
	closed := make(map[string]bool, len(closedIDs))
	for _, id := range closedIDs {
		closed[id] = true
	}
	pendingClose := make(map[string]bool, len(m.pending))
	for _, po := range m.pending {
		if po.OriginalID != "" {
			pendingClose[po.OriginalID] = true
		}
	}
	for _, id := range m.sortedManagedIDs() {
		mo := m.managed[id]
		if mo.Stop == nil || closed[id] || pendingClose[id] {
			continue
		}
		closing, err := mo.Opposite(true, false)
		if err != nil {
			return fmt.Errorf("stop order for %s: %w", mo.Asset, err)
		}
		if _, err := m.makeAndSendPendingOrder(ctx, closing, true, id); err != nil {
			return err
		}
	}
	return nil
}

// replacePendingStopOrder cancels the broker-side stop order re-issued
// for a managed order earlier this session, so a close order for the
// same stock can take its place instead of tripping the
// duplicate-pending guard.
func (m *PositionManager) replacePendingStopOrder(ctx context.Context, managedID string) error {
	for brokerID, po := range m.pending {
		if po.OriginalID != managedID || po.Order.Stop == nil {
			continue
		}
		m.log.Debug("replacing resting stop order with close",
			slog.String("broker_id", brokerID),
			slog.String("symbol", po.Order.Asset.Symbol))
		if err := m.broker.CancelOrder(ctx, BrokerOrder{ID: brokerID, Symbol: po.Order.Asset.Symbol}); err != nil {
			return fmt.Errorf("cancel stop order %s: %w", brokerID, err)
		}
		delete(m.pending, brokerID)
	}
	return nil
}

// recordAutoClosedPositions reports positions about to auto-close to the
// replay sink. Auto-closed positions never reach the fill callback, so
// their round trips are closed here at the last known close price, one
// day ahead of the auto-close date.
func (m *PositionManager) recordAutoClosedPositions(today time.Time, data domain.Bars) error {
	yesterday := today.AddDate(0, 0, -1)
	for sym, ids := range m.managedBySymbol() {
		asset := m.managed[ids[0]].Asset
		if !asset.ExpiredBy(yesterday) {
			continue
		}
		bar, haveBar := data[sym]
		if !haveBar {
			m.log.Warn("no price row for auto-close replay record", slog.String("symbol", sym))
			continue
		}
		for _, id := range ids {
			if err := m.replay.AddCloseOrder(m.managed[id], today, bar.Close); err != nil {
				return fmt.Errorf("record auto close %s: %w", sym, err)
			}
		}
	}
	return nil
}

// makeAndSendPendingOrder builds the broker request for one order and
// records the resulting pending order. The broker request is a
// percent-target order for weight-based orders, a limit order when a
// limit price is set, a stop order when submitted as one and a stop
// price is known, and a plain market order otherwise.
func (m *PositionManager) makeAndSendPendingOrder(ctx context.Context, o *order.Order, isStopOrder bool, originalID string) (string, error) {
	for _, po := range m.pending {
		if po.Order.Asset.Symbol == o.Asset.Symbol {
			return "", fmt.Errorf("%s: to add %s, existing %s: %w",
				o.Asset, o, po.Order, ErrDuplicatePendingOrder)
		}
	}

	sign := o.Sign()
	var brokerID string
	var err error
	switch {
	case o.Kind == order.KindPercent:
		brokerID, err = m.broker.PlacePercentTargetOrder(ctx, o.Asset, float64(sign)*o.TargetPercent)
	case o.LimitPrice != 0:
		brokerID, err = m.broker.PlaceOrder(ctx, o.Asset, sign*o.Amount, LimitStyle(o.LimitPrice))
	case isStopOrder && o.Stop != nil:
		var stopPrice float64
		stopPrice, err = o.Stop.StopPrice()
		if err == nil {
			brokerID, err = m.broker.PlaceOrder(ctx, o.Asset, sign*o.Amount, StopStyle(stopPrice))
			break
		}
		if !errors.Is(err, stop.ErrNoStopPrice) {
			return "", fmt.Errorf("stop price for %s: %w", o.Asset, err)
		}
		brokerID, err = m.broker.PlaceOrder(ctx, o.Asset, sign*o.Amount, MarketStyle())
	default:
		brokerID, err = m.broker.PlaceOrder(ctx, o.Asset, sign*o.Amount, MarketStyle())
	}
	if err != nil {
		return "", fmt.Errorf("place order %s: %w", o, err)
	}
	if brokerID == "" {
		// The broker rejected the order without an error; it will never
		// fill and never show up among open orders.
		m.log.Warn("broker returned no order id", slog.String("order", o.String()))
		return "", nil
	}

	m.pending[brokerID] = &PendingOrder{Order: o, BrokerID: brokerID, OriginalID: originalID}
	m.log.Debug("sent out order",
		slog.String("broker_id", brokerID), slog.String("order", o.String()))
	return brokerID, nil
}
