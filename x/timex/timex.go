package timex

import (
	"sync/atomic"
	"time"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Clock is a free-running tick source. Ticks wrap at 2^32; callers compare
// with unsigned subtraction.
type Clock interface {
	Ticks() uint32
}

// TickClock counts milliseconds since it was created, like a SysTick
// driven HAL_GetTick.
type TickClock struct {
	start time.Time
}

func NewTickClock() *TickClock { return &TickClock{start: time.Now()} }

func (c *TickClock) Ticks() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}

// StepClock advances by Step on every read. Busy-wait loops driven by it
// time out after a deterministic number of polls.
type StepClock struct {
	now  atomic.Uint32
	Step uint32
}

func (c *StepClock) Ticks() uint32 {
	step := c.Step
	if step == 0 {
		step = 1
	}
	return c.now.Add(step) - step
}

// Peek returns the next value Ticks will return, without advancing.
func (c *StepClock) Peek() uint32 { return c.now.Load() }

// Elapsed returns now-start with wraparound.
func Elapsed(c Clock, start uint32) uint32 { return c.Ticks() - start }
