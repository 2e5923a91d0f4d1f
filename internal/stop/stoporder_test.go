package stop

import (
	"errors"
	"testing"

	"github.com/redwookcreek/backtest/internal/domain"
)

func TestStopOrder_TimeStop(t *testing.T) {
	so := NewStopOrder(nil, 2, nil, nil)
	bar := domain.Bar{Close: 100}

	if got := so.Status(bar); got != domain.StatusNotTriggered {
		t.Errorf("Status() after 0 bars = %v, want NOT_TRIGGERED", got)
	}
	so.IncrBarCount()
	if got := so.Status(bar); got != domain.StatusNotTriggered {
		t.Errorf("Status() after 1 bar = %v, want NOT_TRIGGERED", got)
	}
	so.IncrBarCount()
	if got := so.Status(bar); got != domain.StatusTimeStop {
		t.Errorf("Status() after 2 bars = %v, want TIME_STOP", got)
	}
}

func TestStopOrder_StatusPriority(t *testing.T) {
	// Several exits can be true on the same day; the fixed order is
	// time stop, then target, then initial stop, then trailing stop.

	// Time stop and target reached at once: time stop wins.
	so := NewStopOrder(nil, 1, NewPercentProfitTarget(domain.Long, 0.05), nil)
	so.UpdateWithOpenPrice(100) // target=105
	so.IncrBarCount()
	if got := so.Status(domain.Bar{Close: 200}); got != domain.StatusTimeStop {
		t.Errorf("Status() = %v, want TIME_STOP over TARGET_REACHED", got)
	}

	// Target reached and trailing triggered at once: target wins. A
	// zero-percent target sits at the open, so a close at the open
	// reaches it while sitting below the ratcheted trailing stop.
	trailing := NewPercentTrailingStop(domain.Long, 0.01)
	so = NewStopOrder(nil, 0, NewPercentProfitTarget(domain.Long, 0), trailing)
	so.UpdateWithOpenPrice(100)
	so.UpdateStops(domain.Bar{Close: 10_000})
	if got := so.Status(domain.Bar{Close: 100}); got != domain.StatusTargetReached {
		t.Errorf("Status() = %v, want TARGET_REACHED over TRAILING_STOP", got)
	}

	// Initial and trailing both triggered: initial stop is reported.
	so = NewStopOrder(NewFixStop(domain.Long, 2), 0, nil, trailing)
	so.UpdateWithOpenPrice(100)
	so.UpdateStops(domain.Bar{Close: 10_000})
	if got := so.Status(domain.Bar{Close: 90}); got != domain.StatusInitialStop {
		t.Errorf("Status() = %v, want INITIAL_STOP over TRAILING_STOP", got)
	}

	// Trailing stop alone.
	so = NewStopOrder(nil, 0, nil, NewPercentTrailingStop(domain.Long, 0.1))
	so.UpdateStops(domain.Bar{Close: 100})
	if got := so.Status(domain.Bar{Close: 89}); got != domain.StatusTrailingStop {
		t.Errorf("Status() = %v, want TRAILING_STOP", got)
	}
}

func TestStopOrder_DoMaintenance(t *testing.T) {
	initial := NewFixStop(domain.Long, 2)
	target := NewPercentProfitTarget(domain.Long, 0.05)
	trailing := NewPercentTrailingStop(domain.Long, 0.1)
	so := NewStopOrder(initial, 5, target, trailing)

	so.DoMaintenance(100, domain.Bar{Close: 102})

	if so.BarCount() != 1 {
		t.Errorf("BarCount() = %d, want 1", so.BarCount())
	}
	stopPrice, err := so.StopPrice()
	if err != nil {
		t.Fatalf("StopPrice() error = %v", err)
	}
	// initial = 98, trailing = 102*0.9 = 91.8; the higher wins for longs
	if stopPrice != 98 {
		t.Errorf("StopPrice() = %v, want 98", stopPrice)
	}
	targetPrice, err := so.TargetPrice()
	if err != nil {
		t.Fatalf("TargetPrice() error = %v", err)
	}
	if targetPrice < 105-1e-9 || targetPrice > 105+1e-9 {
		t.Errorf("TargetPrice() = %v, want 105", targetPrice)
	}
}

func TestStopOrder_TrailingOvertakesInitial(t *testing.T) {
	initial := NewFixStop(domain.Long, 10)
	trailing := NewPercentTrailingStop(domain.Long, 0.05)
	so := NewStopOrder(initial, 0, nil, trailing)

	so.DoMaintenance(100, domain.Bar{Close: 100}) // initial 90, trailing 95
	p, err := so.StopPrice()
	if err != nil {
		t.Fatalf("StopPrice() error = %v", err)
	}
	if p != 95 {
		t.Errorf("StopPrice() = %v, want trailing 95", p)
	}

	so.DoMaintenance(100, domain.Bar{Close: 120}) // trailing ratchets to 114
	p, _ = so.StopPrice()
	if p < 113.99 || p > 114.01 {
		t.Errorf("StopPrice() = %v, want ~114", p)
	}
}

func TestStopOrder_NoConditions(t *testing.T) {
	so := NewStopOrder(nil, 0, nil, nil)
	so.DoMaintenance(100, domain.Bar{Close: 100})

	if got := so.Status(domain.Bar{Close: 0}); got != domain.StatusNotTriggered {
		t.Errorf("Status() = %v, want NOT_TRIGGERED", got)
	}
	if _, err := so.StopPrice(); !errors.Is(err, ErrNoStopPrice) {
		t.Errorf("StopPrice() error = %v, want ErrNoStopPrice", err)
	}
	if _, err := so.TargetPrice(); !errors.Is(err, ErrNoTarget) {
		t.Errorf("TargetPrice() error = %v, want ErrNoTarget", err)
	}
}
