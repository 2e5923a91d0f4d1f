package strategy

import (
	"testing"

	"github.com/redwookcreek/backtest/internal/domain"
)

func feed(s *SMACross, sym string, closes ...float64) (last []struct {
	action domain.Action
	symbol string
}) {
	for _, close := range closes {
		last = nil
		for _, sig := range s.OnSessionData(domain.Bars{sym: {Close: close}}) {
			last = append(last, struct {
				action domain.Action
				symbol string
			}{sig.Action, sig.Asset.Symbol})
		}
	}
	return last
}

func TestSMACross_GoldenCross(t *testing.T) {
	s := NewSMACross(2, 3)

	// Flat history, then a jump: short SMA crosses above the long.
	signals := feed(s, "AMZN", 10, 10, 10, 13)
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	if signals[0].action != domain.Open || signals[0].symbol != "AMZN" {
		t.Errorf("signal = %+v, want open AMZN", signals[0])
	}
}

func TestSMACross_DeadCross(t *testing.T) {
	s := NewSMACross(2, 3)

	// Jump up (golden cross), then collapse: short crosses back below.
	feed(s, "AMZN", 10, 10, 10, 13)
	signals := feed(s, "AMZN", 1)
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	if signals[0].action != domain.Close {
		t.Errorf("signal action = %v, want Close", signals[0].action)
	}
}

func TestSMACross_NoSignalDuringWarmup(t *testing.T) {
	s := NewSMACross(2, 5)
	if got := feed(s, "AMZN", 10, 20, 30, 40); len(got) != 0 {
		t.Errorf("signals during warmup = %d, want 0", len(got))
	}
}

func TestSMACross_NoSignalWithoutCross(t *testing.T) {
	s := NewSMACross(2, 3)
	if got := feed(s, "AMZN", 10, 11, 12, 13, 14, 15); len(got) != 0 {
		t.Errorf("signals on steady trend = %d, want 0", len(got))
	}
}

func TestSMACross_SymbolsTrackedIndependently(t *testing.T) {
	s := NewSMACross(2, 3)

	for _, close := range []float64{10, 10, 10} {
		s.OnSessionData(domain.Bars{"AMZN": {Close: close}, "MSFT": {Close: 50}})
	}
	signals := s.OnSessionData(domain.Bars{"AMZN": {Close: 13}, "MSFT": {Close: 50}})
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	if signals[0].Asset.Symbol != "AMZN" {
		t.Errorf("signal symbol = %s, want AMZN", signals[0].Asset.Symbol)
	}
}

func TestNewSMACross_PanicsOnBadPeriods(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("NewSMACross(5, 5) did not panic")
		}
	}()
	NewSMACross(5, 5)
}
