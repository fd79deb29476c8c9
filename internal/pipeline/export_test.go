package pipeline

import "time"

// SetBackoff shortens retry delays for tests.
func SetBackoff(c *Consumer, initial, maxDelay time.Duration) {
	c.initialBackoff = initial
	c.maxBackoff = maxDelay
}
