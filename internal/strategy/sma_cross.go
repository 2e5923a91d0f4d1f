package strategy

import (
	"sort"

	"github.com/redwookcreek/backtest/internal/domain"
	"github.com/redwookcreek/backtest/internal/sizer"
)

// SMACross is a simple moving-average crossover strategy. A golden
// cross (short SMA moving above the long SMA) signals a long entry, a
// dead cross signals a close.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	books       map[string]*priceBook
}

// priceBook holds one symbol's price history in a fixed-size ring
// buffer with a running sum for the long period.
type priceBook struct {
	prices []float64
	head   int // next write position
	count  int
	sum    float64

	prevShort float64
	prevLong  float64
}

// NewSMACross creates a crossover strategy. shortPeriod must be less
// than longPeriod.
func NewSMACross(shortPeriod, longPeriod int) *SMACross {
	if shortPeriod >= longPeriod {
		panic("strategy: shortPeriod must be less than longPeriod")
	}
	return &SMACross{
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		books:       make(map[string]*priceBook),
	}
}

// OnSessionData implements Strategy. Symbols are processed in sorted
// order so a run is deterministic.
func (s *SMACross) OnSessionData(data domain.Bars) []sizer.Signal {
	syms := make([]string, 0, len(data))
	for sym := range data {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	var signals []sizer.Signal
	for _, sym := range syms {
		if sig, ok := s.update(sym, data[sym].Close); ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

func (s *SMACross) update(sym string, close float64) (sizer.Signal, bool) {
	book, ok := s.books[sym]
	if !ok {
		book = &priceBook{prices: make([]float64, s.longPeriod)}
		s.books[sym] = book
	}

	// When full, head points at the oldest value about to be replaced.
	if book.count == s.longPeriod {
		book.sum -= book.prices[book.head]
	}
	book.prices[book.head] = close
	book.sum += close
	book.head = (book.head + 1) % s.longPeriod
	if book.count < s.longPeriod {
		book.count++
	}
	if book.count < s.longPeriod {
		return sizer.Signal{}, false
	}

	currLong := book.sum / float64(s.longPeriod)
	currShort := s.shortSMA(book)
	defer func() {
		book.prevShort = currShort
		book.prevLong = currLong
	}()

	if book.prevShort == 0 || book.prevLong == 0 {
		return sizer.Signal{}, false
	}
	if book.prevShort <= book.prevLong && currShort > currLong {
		return sizer.Signal{Asset: domain.NewEquity(sym), Action: domain.Open, Direction: domain.Long}, true
	}
	if book.prevShort >= book.prevLong && currShort < currLong {
		return sizer.Signal{Asset: domain.NewEquity(sym), Action: domain.Close, Direction: domain.Long}, true
	}
	return sizer.Signal{}, false
}

// shortSMA averages the most recent shortPeriod entries, walking the
// ring buffer backwards from the latest write.
func (s *SMACross) shortSMA(book *priceBook) float64 {
	var sum float64
	idx := book.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum += book.prices[idx]
	}
	return sum / float64(s.shortPeriod)
}
