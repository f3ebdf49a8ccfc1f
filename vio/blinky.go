package vio

import (
	"context"
	"sync"
	"time"
)

const DefaultBlinkPeriod = 500 * time.Millisecond

// SignalWriter is the part of a Registry the pattern driver uses.
type SignalWriter interface {
	SetOutputSignal(mask, levels Mask) Mask
	GetInputSignal(mask Mask) Mask
	SetValue(index int, value int32)
}

// Blinky cycles through Patterns, one state per Period, writing the whole
// Mask on every transition. States wrap around forever.
type Blinky struct {
	Mask     Mask
	Patterns []Mask
	Period   time.Duration
	// HoldMask names inputs that freeze the cycle while active.
	HoldMask Mask
	// StateValueIndex is the value store slot mirroring the current state,
	// negative disables it.
	StateValueIndex int

	out SignalWriter

	lock        sync.Mutex
	state       int
	transitions uint64
}

// NewBlinky builds a running light: state i lights signal i of mask only.
func NewBlinky(out SignalWriter, mask Mask) *Blinky {
	patterns := []Mask{}
	for _, s := range mask.Signals() {
		patterns = append(patterns, s.Mask())
	}
	return &Blinky{
		Mask:     mask,
		Patterns: patterns,
		Period:   DefaultBlinkPeriod,
		out:      out,
	}
}

// Start enters state 0.
func (b *Blinky) Start() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.state = 0
	b.apply()
}

// Tick handles one timer expiry: it advances, or re-asserts the current
// state while a hold input is active.
func (b *Blinky) Tick() {
	if b.HoldMask != 0 && b.out.GetInputSignal(b.HoldMask) != 0 {
		b.lock.Lock()
		defer b.lock.Unlock()

		b.apply()
		return
	}
	b.Step()
}

// Step moves to the next state unconditionally.
func (b *Blinky) Step() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if len(b.Patterns) == 0 {
		return
	}
	b.state = (b.state + 1) % len(b.Patterns)
	b.transitions++
	b.apply()
}

func (b *Blinky) apply() {
	if len(b.Patterns) == 0 {
		return
	}
	b.out.SetOutputSignal(b.Mask, b.Patterns[b.state])
	if b.StateValueIndex >= 0 {
		b.out.SetValue(b.StateValueIndex, int32(b.state))
	}
}

func (b *Blinky) State() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.state
}

// Transitions counts state changes since construction.
func (b *Blinky) Transitions() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.transitions
}

// Run starts the cycle and ticks it from sched until ctx is done.
func (b *Blinky) Run(ctx context.Context, sched Scheduler) error {
	period := b.Period
	if period <= 0 {
		period = DefaultBlinkPeriod
	}
	b.Start()
	return sched.Every(ctx, "blinky", period, b.Tick)
}
