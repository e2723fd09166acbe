package kernel

import "time"

// clock backs sys_time_msec with a monotonic counter rooted at kernel boot,
// standing in for the PIT-driven uptime counter in kern/time.c.
type clock struct {
	start time.Time
}

func newClock() *clock { return &clock{start: time.Now()} }

func (c *clock) elapsedMsec() int64 { return time.Since(c.start).Milliseconds() }
