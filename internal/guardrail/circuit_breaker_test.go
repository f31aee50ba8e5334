package guardrail

import (
	"errors"
	"testing"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/alert"
)

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 3, MaxFailuresPerHour: 100, CooldownMinutes: 30}, nil)

	for i := 0; i < 2; i++ {
		cb.RecordFailure(errors.New("broker timeout"))
	}
	if cb.IsTripped() {
		t.Fatalf("breaker tripped early after %d failures", 2)
	}

	cb.RecordFailure(errors.New("broker timeout"))
	if !cb.IsTripped() {
		t.Fatalf("expected breaker to trip after 3 consecutive failures")
	}
	if cb.TripReason() == "" {
		t.Errorf("expected a non-empty trip reason")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 3, MaxFailuresPerHour: 100, CooldownMinutes: 30}, nil)

	cb.RecordFailure(errors.New("x"))
	cb.RecordFailure(errors.New("x"))
	cb.RecordSuccess()
	if got := cb.ConsecutiveFailures(); got != 0 {
		t.Fatalf("ConsecutiveFailures() = %d, want 0 after success", got)
	}

	cb.RecordFailure(errors.New("x"))
	cb.RecordFailure(errors.New("x"))
	if cb.IsTripped() {
		t.Fatalf("breaker should not trip: success reset the consecutive streak")
	}
}

func TestCircuitBreaker_TripsOnHourlyThreshold(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 1000, MaxFailuresPerHour: 2, CooldownMinutes: 30}, nil)
	cb.RecordSuccess() // no-op, exercises the reset-after-success path with nothing tripped

	cb.RecordFailure(errors.New("a"))
	cb.RecordSuccess() // resets consecutive but not the hourly window
	cb.RecordFailure(errors.New("b"))
	if !cb.IsTripped() {
		t.Fatalf("expected breaker to trip once hourly failures reach the threshold")
	}
}

func TestCircuitBreaker_ManualResetClearsState(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 1, MaxFailuresPerHour: 100, CooldownMinutes: 30}, nil)
	cb.RecordFailure(errors.New("x"))
	if !cb.IsTripped() {
		t.Fatalf("expected breaker to trip")
	}

	cb.Reset()
	if cb.IsTripped() {
		t.Fatalf("expected breaker to be clear after manual reset")
	}
	if cb.TripReason() != "" {
		t.Errorf("expected empty trip reason after reset, got %q", cb.TripReason())
	}
}

func TestCircuitBreaker_CooldownAutoResets(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 1, MaxFailuresPerHour: 100, CooldownMinutes: 1}, nil)
	cb.RecordFailure(errors.New("x"))
	if !cb.IsTripped() {
		t.Fatalf("expected breaker to trip")
	}
	// Backdate the trip past the 1-minute cooldown so the next check sees it
	// expired. (CooldownMinutes: 0 disables auto-reset, like the other
	// zero-valued thresholds.)
	cb.mu.Lock()
	cb.trippedAt = time.Now().Add(-2 * time.Minute)
	cb.mu.Unlock()
	if cb.IsTripped() {
		t.Fatalf("expected an expired cooldown to auto-reset on next check")
	}
}

func TestCircuitBreaker_UpdateConfigDoesNotResetTrippedState(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 1, MaxFailuresPerHour: 100, CooldownMinutes: 30}, nil)
	cb.RecordFailure(errors.New("x"))
	if !cb.IsTripped() {
		t.Fatalf("expected breaker to trip")
	}

	cb.UpdateConfig(Config{MaxConsecutiveFailures: 10, MaxFailuresPerHour: 10, CooldownMinutes: 30})
	if !cb.IsTripped() {
		t.Fatalf("UpdateConfig must not clear the tripped flag")
	}
}

func TestCircuitBreaker_ValidationAndLogicRejectionsDoNotCountTowardTrip(t *testing.T) {
	cb := NewCircuitBreaker(Config{MaxConsecutiveFailures: 2, MaxFailuresPerHour: 100, CooldownMinutes: 30}, nil)

	cb.RecordFailure(&alert.ValidationError{Field: "price", Msg: "limit orders require price > 0"})
	cb.RecordFailure(&alert.BrokerLogicError{Code: "40310000", Msg: "insufficient balance"})
	cb.RecordFailure(&alert.ValidationError{Field: "code", Msg: "must be exactly 6 decimal digits"})

	if cb.IsTripped() {
		t.Fatal("validation and broker-logic rejections must never trip the breaker")
	}
	if got := cb.ConsecutiveFailures(); got != 0 {
		t.Fatalf("ConsecutiveFailures() = %d, want 0: these failures shouldn't be counted", got)
	}

	cb.RecordFailure(&alert.TransientNetworkError{Msg: "dial tcp: timeout"})
	cb.RecordFailure(errors.New("unexpected EOF"))
	if !cb.IsTripped() {
		t.Fatal("expected an untyped error plus a transient network error to trip the breaker")
	}
}
