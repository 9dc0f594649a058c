package transport

import "time"

const (
	DefaultMaxRetries = 5
	backoffUnit       = time.Second
	backoffCeiling    = 30 * time.Second
)

// Backoff is the delay before reconnect attempt n (1-based):
// min(1s * (2^n - 1), 30s).
func Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	// 2^5 already exceeds the ceiling; avoid shifting into overflow
	if n >= 6 {
		return backoffCeiling
	}
	d := backoffUnit * time.Duration((1<<n)-1)
	if d > backoffCeiling {
		return backoffCeiling
	}
	return d
}
