package domain

import "time"

// backoffSchedule fixes the wait before each webhook retry attempt.
// Deliveries that keep failing settle on the last entry until the attempt
// cap discards them.
var backoffSchedule = [...]time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	600 * time.Second,
}

// BackoffDelay returns the wait before retry attempt n (zero-based).
// Attempts past the end of the schedule are clamped to the final delay.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(backoffSchedule) {
		attempt = len(backoffSchedule) - 1
	}
	return backoffSchedule[attempt]
}
