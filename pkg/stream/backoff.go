package stream

import "time"

// backoffDelay returns the reconnect delay for a retry attempt:
// base * 2^attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}
	// 2^30 seconds already dwarfs any sane cap.
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max {
		return max
	}
	return d
}
