package session

import (
	"errors"
	"time"

	"github.com/xferlab/xferbridge/internal/protocol"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 2 * time.Second
)

// RetryPolicy bounds retries for transient transport faults. Delay grows
// linearly: base, 2×base, 3×base.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBaseDelay
	}
	if p.sleep == nil {
		p.sleep = time.Sleep
	}
	return p
}

// RunWithRetry routes every attempt back through the operation queue so
// FIFO ordering is preserved even while an earlier operation is being
// retried. Non-transient failures, queue timeouts, and a session that
// disappears mid-retry all terminate immediately. No reconnection ever
// happens here: a dead connection requires a fresh connect.
func (r *Registry) RunWithRetry(id string, timeout time.Duration, policy RetryPolicy, op Op) error {
	policy = policy.withDefaults()

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = r.Run(id, timeout, op)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrOperationTimeout) {
			return err
		}
		if !protocol.IsTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		policy.sleep(policy.BaseDelay * time.Duration(attempt))
		if _, lerr := r.Lookup(id); lerr != nil {
			return lerr
		}
	}
	return err
}
