package sellengine

import (
	"testing"
	"time"
)

func TestPosition_TransitionAllowedPath(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	if err := pos.Transition(StatusStopTriggered); err != nil {
		t.Fatalf("ACTIVE -> STOP_TRIGGERED should be allowed: %v", err)
	}
	if err := pos.Transition(StatusClosed); err != nil {
		t.Fatalf("STOP_TRIGGERED -> CLOSED should be allowed: %v", err)
	}
}

func TestPosition_TransitionRejectsBackToActive(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	if err := pos.Transition(StatusStopTriggered); err != nil {
		t.Fatalf("setup transition failed: %v", err)
	}
	if err := pos.Transition(StatusActive); err == nil {
		t.Fatal("expected an error transitioning back to ACTIVE")
	}
}

func TestPosition_TransitionRejectsMoveFromTerminal(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	_ = pos.Transition(StatusTPTriggered)
	_ = pos.Transition(StatusClosed)
	if err := pos.Transition(StatusActive); err == nil {
		t.Fatal("expected an error transitioning out of CLOSED")
	}
}

func TestPosition_UpdatePriceTracksHighestAndReturn(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	pos.UpdatePrice(10500)
	if pos.CurrentReturn != 0.05 {
		t.Errorf("current_return = %v, want 0.05", pos.CurrentReturn)
	}
	if pos.HighestPriceSinceEntry != 10500 {
		t.Errorf("highest_price_since_entry = %v, want 10500", pos.HighestPriceSinceEntry)
	}
	pos.UpdatePrice(10200)
	if pos.HighestPriceSinceEntry != 10500 {
		t.Errorf("highest_price_since_entry dropped to %v after a lower tick", pos.HighestPriceSinceEntry)
	}
}

func TestPosition_UpdatePriceNoOpWhenNotActive(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	_ = pos.Transition(StatusStopTriggered)
	pos.UpdatePrice(10800)
	if pos.CurrentPrice != 10000 {
		t.Errorf("UpdatePrice should be a no-op once the position left ACTIVE, got current_price=%v", pos.CurrentPrice)
	}
}

func TestPosition_SetTrailingStopMonotonicallyIncreases(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	pos.SetTrailingStop(9900)
	if pos.TrailingStopPrice != 9900 {
		t.Fatalf("trailing_stop_price = %v, want 9900", pos.TrailingStopPrice)
	}
	pos.SetTrailingStop(9800) // lower, should be ignored
	if pos.TrailingStopPrice != 9900 {
		t.Errorf("trailing_stop_price decreased to %v, want it to stay at 9900", pos.TrailingStopPrice)
	}
	pos.SetTrailingStop(10100)
	if pos.TrailingStopPrice != 10100 {
		t.Errorf("trailing_stop_price = %v, want 10100", pos.TrailingStopPrice)
	}
}

func TestPosition_SetTrailingStopNeverBelowStopLoss(t *testing.T) {
	pos := NewPosition("005930", "Samsung", "tech", 10000, time.Now(), 100, 9700, 10500)
	pos.SetTrailingStop(9000) // below stop_loss_price of 9700
	if pos.TrailingStopPrice != 9700 {
		t.Errorf("trailing_stop_price = %v, want floored at stop_loss_price 9700", pos.TrailingStopPrice)
	}
}

func TestPosition_HoldDays(t *testing.T) {
	entry := time.Now().Add(-72 * time.Hour)
	pos := NewPosition("005930", "Samsung", "tech", 10000, entry, 100, 9700, 10500)
	if d := pos.HoldDays(time.Now()); d != 3 {
		t.Errorf("HoldDays = %d, want 3", d)
	}
}
