package uploadqueue

import (
	"testing"
	"time"

	"github.com/coursedrop/coursedrop/internal/model"
)

func TestPolicyRetriesTransientFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 3}

	for _, kind := range []model.FailureKind{model.FailureNetwork, model.FailureServer} {
		if policy.Decide(1, kind) != AutoRetry {
			t.Errorf("%s at attempt 1: expected auto-retry", kind)
		}
		if policy.Decide(2, kind) != AutoRetry {
			t.Errorf("%s at attempt 2: expected auto-retry", kind)
		}
		if policy.Decide(3, kind) != Stop {
			t.Errorf("%s at attempt 3: expected stop", kind)
		}
	}
}

func TestPolicyNeverRetriesTerminalKinds(t *testing.T) {
	policy := Policy{MaxAttempts: 3}

	for _, kind := range []model.FailureKind{model.FailureCancelled, model.FailureValidation} {
		if policy.Decide(1, kind) != Stop {
			t.Errorf("%s: expected stop regardless of attempt count", kind)
		}
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	base := time.Second
	for attempt := 1; attempt <= 4; attempt++ {
		d := Backoff(base, attempt)
		lower := base << (attempt - 1)
		if lower > maxBackoff {
			lower = maxBackoff
		}
		upper := lower + lower/2
		if d < lower || d > upper {
			t.Errorf("attempt %d: backoff %s outside [%s, %s]", attempt, d, lower, upper)
		}
	}
}

func TestBackoffZeroBase(t *testing.T) {
	if d := Backoff(0, 5); d != 0 {
		t.Fatalf("expected zero backoff for zero base, got %s", d)
	}
}
