package uploadqueue

import (
	"math/rand"
	"time"

	"github.com/coursedrop/coursedrop/internal/model"
)

// Decision is the retry policy's verdict for a failed item.
type Decision int

const (
	// Stop leaves the item failed until the user retries or removes it.
	Stop Decision = iota
	// AutoRetry returns the item to pending without user action.
	AutoRetry
)

// Policy decides whether a failed item is retried automatically. Pure function
// of the attempt count and the failure kind.
type Policy struct {
	MaxAttempts int
}

// Decide returns AutoRetry for transient failures below the attempt cap.
// Cancelled and validation failures never auto-retry: repeating the request
// would repeat the same rejection.
func (p Policy) Decide(attempt int, kind model.FailureKind) Decision {
	switch kind {
	case model.FailureCancelled, model.FailureValidation:
		return Stop
	}
	if attempt < p.MaxAttempts {
		return AutoRetry
	}
	return Stop
}

const maxBackoff = 30 * time.Second

// Backoff returns the delay before attempt+1, exponential in the attempt count
// with up to 50% jitter so retries against the transport do not synchronize.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
