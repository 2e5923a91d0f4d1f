package stop

import (
	"errors"
	"testing"

	"github.com/redwookcreek/backtest/internal/domain"
)

func TestFixStop_SetFromOpen(t *testing.T) {
	tests := []struct {
		name string
		dir  domain.Direction
		diff float64
		open float64
		want float64
	}{
		{"LongSimple", domain.Long, 2, 12, 10},
		{"LongCappedAtHalf", domain.Long, 80, 100, 50},
		{"ShortSimple", domain.Short, 2, 12, 14},
		{"ShortNoCap", domain.Short, 80, 100, 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewFixStop(tt.dir, tt.diff)
			s.SetFromOpen(tt.open)
			got, err := s.Price()
			if err != nil {
				t.Fatalf("Price() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Price() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFixStop_Triggered(t *testing.T) {
	s := NewFixStop(domain.Long, 2)
	s.SetFromOpen(12)

	if !s.Triggered(domain.Bar{Close: 9.5}) {
		t.Errorf("Triggered(close=9.5) = false, want true")
	}
	if s.Triggered(domain.Bar{Close: 11}) {
		t.Errorf("Triggered(close=11) = true, want false")
	}
	// Stop price itself counts as breached
	if !s.Triggered(domain.Bar{Close: 10}) {
		t.Errorf("Triggered(close=10) = false, want true")
	}
}

func TestFixStop_PriceBeforeSet(t *testing.T) {
	s := NewFixStop(domain.Long, 2)
	if _, err := s.Price(); !errors.Is(err, ErrNoStopPrice) {
		t.Errorf("Price() error = %v, want ErrNoStopPrice", err)
	}
	if s.Triggered(domain.Bar{Close: 1}) {
		t.Errorf("Triggered() before set = true, want false")
	}
}

func TestPercentTrailingStop_RatchetLong(t *testing.T) {
	s := NewPercentTrailingStop(domain.Long, 0.1)

	s.Ratchet(domain.Bar{Close: 100})
	p1, err := s.Price()
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}
	if p1 != 90 {
		t.Fatalf("Price() = %v, want 90", p1)
	}

	// Non-increasing closes leave the stop unchanged
	for _, close := range []float64{100, 95, 80} {
		s.Ratchet(domain.Bar{Close: close})
		p, _ := s.Price()
		if p != 90 {
			t.Errorf("Ratchet(close=%v): Price() = %v, want 90", close, p)
		}
	}

	// A higher close strictly raises the stop
	s.Ratchet(domain.Bar{Close: 120})
	p2, _ := s.Price()
	if p2 != 108 {
		t.Errorf("Ratchet(close=120): Price() = %v, want 108", p2)
	}
}

func TestPercentTrailingStop_RatchetShort(t *testing.T) {
	s := NewPercentTrailingStop(domain.Short, 0.1)

	s.Ratchet(domain.Bar{Close: 100})
	p1, _ := s.Price()
	if p1 < 109.99 || p1 > 110.01 {
		t.Fatalf("Price() = %v, want ~110", p1)
	}

	// Non-decreasing closes leave the stop unchanged
	s.Ratchet(domain.Bar{Close: 105})
	p2, _ := s.Price()
	if p2 != p1 {
		t.Errorf("Ratchet(close=105): Price() = %v, want %v", p2, p1)
	}

	// A lower close strictly lowers the stop
	s.Ratchet(domain.Bar{Close: 80})
	p3, _ := s.Price()
	if p3 >= p1 {
		t.Errorf("Ratchet(close=80): Price() = %v, want below %v", p3, p1)
	}
}

func TestATRTrailingStop_RatchetLong(t *testing.T) {
	s := NewATRTrailingStop(domain.Long, 2)

	s.Ratchet(domain.Bar{Close: 100, ATR: 5})
	p, _ := s.Price()
	if p != 90 {
		t.Fatalf("Price() = %v, want 90", p)
	}

	// Lower close does not move the stop down
	s.Ratchet(domain.Bar{Close: 95, ATR: 5})
	p, _ = s.Price()
	if p != 90 {
		t.Errorf("Price() = %v, want 90", p)
	}

	// Higher close raises it
	s.Ratchet(domain.Bar{Close: 110, ATR: 5})
	p, _ = s.Price()
	if p != 100 {
		t.Errorf("Price() = %v, want 100", p)
	}
}

func TestATRTrailingStop_LongFloorAtHalfClose(t *testing.T) {
	// A huge ATR distance is floored at 50% of last close for longs.
	s := NewATRTrailingStop(domain.Long, 20)
	s.Ratchet(domain.Bar{Close: 100, ATR: 10})
	p, _ := s.Price()
	if p != 50 {
		t.Errorf("Price() = %v, want 50", p)
	}

	// No floor on the short side.
	sh := NewATRTrailingStop(domain.Short, 20)
	sh.Ratchet(domain.Bar{Close: 100, ATR: 10})
	p, _ = sh.Price()
	if p != 300 {
		t.Errorf("short Price() = %v, want 300", p)
	}
}

func TestCombinedPrice(t *testing.T) {
	long1 := NewFixStop(domain.Long, 2)
	long1.SetFromOpen(12) // 10
	long2 := NewPercentTrailingStop(domain.Long, 0.1)
	long2.Ratchet(domain.Bar{Close: 100}) // 90

	got, err := CombinedPrice(long1, long2)
	if err != nil {
		t.Fatalf("CombinedPrice() error = %v", err)
	}
	if got != 90 {
		t.Errorf("CombinedPrice() = %v, want 90 (max wins for longs)", got)
	}

	short1 := NewFixStop(domain.Short, 2)
	short1.SetFromOpen(100) // 102
	short2 := NewPercentTrailingStop(domain.Short, 0.1)
	short2.Ratchet(domain.Bar{Close: 80}) // 88

	got, err = CombinedPrice(short1, short2)
	if err != nil {
		t.Fatalf("CombinedPrice() error = %v", err)
	}
	if got != 88 {
		t.Errorf("CombinedPrice() = %v, want 88 (min wins for shorts)", got)
	}
}

func TestCombinedPrice_MismatchedDirections(t *testing.T) {
	long := NewFixStop(domain.Long, 2)
	long.SetFromOpen(12)
	short := NewFixStop(domain.Short, 2)
	short.SetFromOpen(12)

	if _, err := CombinedPrice(long, short); !errors.Is(err, ErrMismatchLongShort) {
		t.Errorf("CombinedPrice() error = %v, want ErrMismatchLongShort", err)
	}
}

func TestCombinedPrice_Empty(t *testing.T) {
	if _, err := CombinedPrice(); !errors.Is(err, ErrNoStopPrice) {
		t.Errorf("CombinedPrice() error = %v, want ErrNoStopPrice", err)
	}
	if _, err := CombinedPrice(nil, nil); !errors.Is(err, ErrNoStopPrice) {
		t.Errorf("CombinedPrice(nil, nil) error = %v, want ErrNoStopPrice", err)
	}
}

func TestCombinedPrice_IgnoresNils(t *testing.T) {
	long := NewFixStop(domain.Long, 2)
	long.SetFromOpen(12)
	got, err := CombinedPrice(nil, long, nil)
	if err != nil {
		t.Fatalf("CombinedPrice() error = %v", err)
	}
	if got != 10 {
		t.Errorf("CombinedPrice() = %v, want 10", got)
	}
}
