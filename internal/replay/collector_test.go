package replay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/order"
	"github.com/redwookcreek/backtest/internal/stop"
)

var (
	amzn = domain.NewEquity("AMZN")
	day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
)

func TestCollector_RoundTrip(t *testing.T) {
	c := NewCollector("breakout")
	o := order.OpenLong(amzn, 100)
	o.AddStop(stop.NewStopOrder(stop.NewFixStop(domain.Long, 2.5), 0, nil, nil))

	require.NoError(t, c.AddOpenOrder(day1, 100.123, o))
	trips := c.RoundTrips()
	require.Len(t, trips, 1)
	trip := trips[0]

	assert.Equal(t, "breakout", trip.Strategy)
	assert.Equal(t, "AMZN", trip.Symbol)
	assert.Equal(t, day1, trip.OpenDate)
	assert.Equal(t, 100.13, trip.OpenPrice) // long open rounds up
	assert.Equal(t, 2.5, trip.StopDiff)
	assert.Equal(t, 0.0, trip.SizerPercent)
	assert.False(t, trip.Closed())

	require.NoError(t, c.AddCloseOrder(o, day2, 110.987))
	assert.True(t, trip.Closed())
	assert.Equal(t, day2, trip.CloseDate)
	assert.Equal(t, 110.98, trip.ClosePrice) // long close rounds down
}

func TestCollector_ShortRounding(t *testing.T) {
	c := NewCollector("breakout")
	o := order.OpenShort(amzn, 100)

	require.NoError(t, c.AddOpenOrder(day1, 100.123, o))
	require.NoError(t, c.AddCloseOrder(o, day2, 90.001))

	trip := c.RoundTrips()[0]
	assert.Equal(t, 100.12, trip.OpenPrice) // short open rounds down
	assert.Equal(t, 90.01, trip.ClosePrice) // short close rounds up
}

func TestCollector_UnknownClose(t *testing.T) {
	c := NewCollector("breakout")
	err := c.AddCloseOrder(order.CloseLong(amzn, 100), day2, 100)
	assert.ErrorIs(t, err, ErrUnknownRoundTrip)
}

func TestCollector_PercentOrderRecordsWeight(t *testing.T) {
	c := NewCollector("breakout")
	o := order.NewPercentOrder(amzn, domain.Long, 0.25, false)
	require.NoError(t, c.AddOpenOrder(day1, 100, o))
	assert.Equal(t, 0.25, c.RoundTrips()[0].SizerPercent)
}

func TestCollector_RoundTripsSorted(t *testing.T) {
	c := NewCollector("breakout")
	require.NoError(t, c.AddOpenOrder(day2, 50, order.OpenLong(domain.NewEquity("AAPL"), 10)))
	require.NoError(t, c.AddOpenOrder(day1, 60, order.OpenLong(domain.NewEquity("MSFT"), 10)))
	require.NoError(t, c.AddOpenOrder(day1, 70, order.OpenLong(amzn, 10)))

	var got []string
	for _, trip := range c.RoundTrips() {
		got = append(got, trip.Symbol)
	}
	assert.Equal(t, []string{"AMZN", "MSFT", "AAPL"}, got)
}

func TestCollector_WriteCSV(t *testing.T) {
	c := NewCollector("breakout")
	o := order.OpenLong(amzn, 100)
	require.NoError(t, c.AddOpenOrder(day1, 100, o))
	require.NoError(t, c.AddCloseOrder(o, day2, 110))

	open := order.OpenLong(domain.NewEquity("MSFT"), 10)
	require.NoError(t, c.AddOpenOrder(day2, 55.5, open))

	var sb strings.Builder
	require.NoError(t, c.WriteCSV(&sb))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "breakout,AMZN,2024-03-01,100.00,0,0,2024-03-08,110.00", lines[0])
	// Open round trip: empty close date, zero close price.
	assert.Equal(t, "breakout,MSFT,2024-03-08,55.50,0,0,,0.00", lines[1])
}
