package gameserver

import "time"

// ReconnectDelay maps a reconnect attempt count to a delay: the base delay
// multiplied by the attempt number, capped at max. Attempt counts below one
// are treated as one. Pure function so the schedule is testable without
// network I/O.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if d > max {
		return max
	}
	return d
}
