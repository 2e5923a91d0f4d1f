// Package replay records completed open/close trade pairs (round trips)
// for later analysis, and persists them to CSV and SQLite.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/order"
)

// ErrUnknownRoundTrip is returned when a close leg arrives for an order
// that never recorded an open leg.
var ErrUnknownRoundTrip = errors.New("no open round trip for order")

const dateLayout = "2006-01-02"

// RoundTrip is a matched open+close pair of orders for one position.
// CloseDate stays zero while the position is open.
type RoundTrip struct {
	Strategy     string
	Symbol       string
	OpenDate     time.Time
	OpenPrice    float64
	SizerPercent float64 // target weight for percent-sized opens, 0 otherwise
	StopDiff     float64 // initial fixed-stop distance, 0 when none
	CloseDate    time.Time
	ClosePrice   float64
}

// Closed reports whether the close leg has been recorded.
func (r *RoundTrip) Closed() bool { return !r.CloseDate.IsZero() }

// CSVRecord renders the round trip as one CSV row.
func (r *RoundTrip) CSVRecord() []string {
	closeDate := ""
	if r.Closed() {
		closeDate = r.CloseDate.Format(dateLayout)
	}
	return []string{
		r.Strategy,
		r.Symbol,
		r.OpenDate.Format(dateLayout),
		fmt.Sprintf("%.2f", r.OpenPrice),
		fmt.Sprintf("%g", r.SizerPercent),
		fmt.Sprintf("%g", r.StopDiff),
		closeDate,
		fmt.Sprintf("%.2f", r.ClosePrice),
	}
}

// Collector accumulates round trips for one strategy. The two legs of a
// round trip are linked by the order's stable identity.
type Collector struct {
	strategy string
	trips    map[string]*RoundTrip
}

// NewCollector creates an empty collector for the named strategy.
func NewCollector(strategy string) *Collector {
	return &Collector{strategy: strategy, trips: make(map[string]*RoundTrip)}
}

// AddOpenOrder records the open leg of a round trip.
func (c *Collector) AddOpenOrder(openDate time.Time, openPrice float64, o *order.Order) error {
	c.trips[o.ID] = &RoundTrip{
		Strategy:     c.strategy,
		Symbol:       o.Asset.Symbol,
		OpenDate:     openDate,
		OpenPrice:    roundPrice(openPrice, domain.Open, o.Direction),
		SizerPercent: o.PercentSize(),
		StopDiff:     o.InitialStopDiff(),
	}
	return nil
}

// AddCloseOrder records the close leg of the round trip opened by the
// same order identity.
func (c *Collector) AddCloseOrder(o *order.Order, closeDate time.Time, closePrice float64) error {
	trip, ok := c.trips[o.ID]
	if !ok {
		return fmt.Errorf("%s order %s: %w", o.Asset, o.ID, ErrUnknownRoundTrip)
	}
	trip.CloseDate = closeDate
	trip.ClosePrice = roundPrice(closePrice, domain.Close, o.Direction)
	return nil
}

// RoundTrips returns the collected trips sorted by open date, then
// symbol for a stable order.
func (c *Collector) RoundTrips() []*RoundTrip {
	trips := make([]*RoundTrip, 0, len(c.trips))
	for _, t := range c.trips {
		trips = append(trips, t)
	}
	sort.Slice(trips, func(i, j int) bool {
		if !trips[i].OpenDate.Equal(trips[j].OpenDate) {
			return trips[i].OpenDate.Before(trips[j].OpenDate)
		}
		return trips[i].Symbol < trips[j].Symbol
	})
	return trips
}

// WriteCSV writes all round trips as CSV rows sorted by open date.
func (c *Collector) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, trip := range c.RoundTrips() {
		if err := cw.Write(trip.CSVRecord()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// roundPrice rounds to the cent against the trade: prices paid (open
// long, close short) round up, prices received (close long, open short)
// round down. Keeps recorded fills conservative.
func roundPrice(price float64, action domain.Action, dir domain.Direction) float64 {
	up := (action == domain.Open && dir == domain.Long) ||
		(action == domain.Close && dir == domain.Short)
	if up {
		return math.Ceil(price*100) / 100
	}
	return math.Floor(price*100) / 100
}
