package session

import "fmt"

// Countdown is the exam clock in whole seconds. A zero duration means the
// clock never runs and never expires.
type Countdown struct {
	initial   int
	remaining int
}

func NewCountdown(durationMinutes int) *Countdown {
	if durationMinutes < 0 {
		durationMinutes = 0
	}
	secs := durationMinutes * 60
	return &Countdown{initial: secs, remaining: secs}
}

func (c *Countdown) Running() bool { return c.initial > 0 }

func (c *Countdown) Remaining() int { return c.remaining }

// Elapsed is the number of seconds consumed so far.
func (c *Countdown) Elapsed() int { return c.initial - c.remaining }

// Tick consumes one second. expired is true only on the tick that reaches 0.
func (c *Countdown) Tick() (remaining int, expired bool) {
	if c.remaining == 0 {
		return 0, false
	}
	c.remaining--
	return c.remaining, c.remaining == 0
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}
