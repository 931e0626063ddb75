// Package backoff provides the reconnection delay policy used by the
// upstream feed client: exponential growth from an initial delay,
// capped, then fixed at the cap. The policy is a pure function of the
// attempt number so reconnect behavior is testable without a transport.
package backoff

import "time"

const (
	initialDelay = 1 * time.Second
	maxDelay     = 30 * time.Second
)

// Delay returns how long to wait before reconnect attempt n. Attempt 0
// is the first retry.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := initialDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
