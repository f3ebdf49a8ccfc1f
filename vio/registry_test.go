package vio

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/swvio/drivers"
)

// testBoard: four active-high LEDs on port 0 pins 10-13, an active-low
// button with pull-up on pin 20.
func testBoard() []Binding {
	bindings := ledBindings(0, []uint8{10, 11, 12, 13}, drivers.PullNoChange, false)
	return append(bindings, Binding{
		Name:      "BUTTON0",
		Signal:    0,
		Pin:       20,
		Direction: Input,
		Pull:      drivers.PullUp,
		ActiveLow: true,
	})
}

func newTestRegistry(t *testing.T, bindings []Binding, opts ...Option) (*Registry, *drivers.MockIoDriver) {
	t.Helper()

	md := &drivers.MockIoDriver{}
	require.NoError(t, md.Setup(context.Background()))

	opts = append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	r, err := NewRegistry(md, bindings, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Initialize())
	md.ResetHistory()

	return r, md
}

func write(pin uint8, level drivers.Level) drivers.MockWrite {
	return drivers.MockWrite{Port: 0, Pin: pin, Level: level}
}

func TestInitializeDrivesOutputsInactive(t *testing.T) {
	md := &drivers.MockIoDriver{}
	require.NoError(t, md.Setup(context.Background()))

	bindings := testBoard()
	bindings[1].ActiveLow = true
	r, err := NewRegistry(md, bindings, WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	require.NoError(t, r.Initialize())

	assert.Equal(t, []drivers.MockWrite{
		write(10, drivers.Low),
		write(11, drivers.High),
		write(12, drivers.Low),
		write(13, drivers.Low),
	}, md.Writes())

	inputs, outputs := md.GetAllIo()
	assert.Len(t, inputs, 1)
	assert.Len(t, outputs, 4)
	assert.Equal(t, Mask(0), r.OutputShadow())
	assert.Equal(t, Mask(0), r.InputShadow())
}

func TestInitializeResetsState(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	r.SetOutputSignal(LED0|LED2, LED0|LED2)
	r.SetValue(0, 99)
	require.NoError(t, r.Initialize())

	assert.Equal(t, Mask(0), r.OutputShadow())
	assert.Equal(t, int32(0), r.GetValue(0))

	require.NoError(t, r.Initialize())
	assert.Equal(t, Mask(0), r.OutputShadow())
}

func TestInitializeReportsConfigureFailure(t *testing.T) {
	md := &drivers.MockIoDriver{
		FailConfigure: map[drivers.PinAddr]bool{{Port: 0, Pin: 11}: true},
	}
	require.NoError(t, md.Setup(context.Background()))

	r, err := NewRegistry(md, testBoard(), WithLogger(log.New(io.Discard)))
	require.NoError(t, err)

	err = r.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 5 bindings failed")
	assert.Contains(t, err.Error(), "LED1(P0.11)")

	// the remaining bindings are still configured
	for _, pin := range []uint8{10, 12, 13} {
		_, found := md.OutputLevel(0, pin)
		assert.True(t, found, "pin %d not configured", pin)
	}
}

func TestSetOutputSignalScenario(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())

	r.SetOutputSignal(0b1111, 0b0001)
	assert.Equal(t, Mask(0b0001), r.OutputShadow())
	assert.Equal(t, []drivers.MockWrite{
		write(10, drivers.High),
		write(11, drivers.Low),
		write(12, drivers.Low),
		write(13, drivers.Low),
	}, md.Writes())

	md.ResetHistory()
	r.SetOutputSignal(0b0010, 0b0010)
	assert.Equal(t, Mask(0b0011), r.OutputShadow())
	assert.Equal(t, []drivers.MockWrite{write(11, drivers.High)}, md.Writes())
}

func TestSetOutputSignalMaskIndependence(t *testing.T) {
	cases := []struct {
		name    string
		initial Mask
		m1, b1  Mask
		m2, b2  Mask
	}{
		{"disjoint leds", 0, LED0 | LED1, LED1, LED2, LED2},
		{"keeps outside bits", LED3 | 1<<20, LED0, LED0, LED1, 0},
		{"clears inside bits", 0xFFFFFFFF, LED0 | LED1, 0, LED2, 0},
		{"unbound high bits", 1 << 31, 1 << 8, 0xFFFFFFFF, 1 << 9, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Zero(t, c.m1&c.m2)
			r, _ := newTestRegistry(t, testBoard())

			r.SetOutputSignal(0xFFFFFFFF, c.initial)
			r.SetOutputSignal(c.m1, c.b1)
			r.SetOutputSignal(c.m2, c.b2)

			shadow := r.OutputShadow()
			outside := ^(c.m1 | c.m2)
			assert.Equal(t, c.initial&outside, shadow&outside)
			assert.Equal(t, c.b1&c.m1, shadow&c.m1)
			assert.Equal(t, c.b2&c.m2, shadow&c.m2)
		})
	}
}

func TestSetOutputSignalReassertsPins(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())

	r.SetOutputSignal(LED0|LED1, LED1)
	once := r.OutputShadow()
	r.SetOutputSignal(LED0|LED1, LED1)

	assert.Equal(t, once, r.OutputShadow())
	assert.Equal(t, []drivers.MockWrite{
		write(10, drivers.Low),
		write(11, drivers.High),
		write(10, drivers.Low),
		write(11, drivers.High),
	}, md.Writes())
}

func TestSetOutputSignalPolarity(t *testing.T) {
	bindings := testBoard()
	bindings[0].ActiveLow = true
	r, md := newTestRegistry(t, bindings)

	r.SetOutputSignal(LED0, LED0)
	level, _ := md.OutputLevel(0, 10)
	assert.Equal(t, drivers.Low, level)
	assert.Equal(t, LED0, r.OutputShadow())

	r.SetOutputSignal(LED0, 0)
	level, _ = md.OutputLevel(0, 10)
	assert.Equal(t, drivers.High, level)
}

func TestSetOutputSignalUnboundBits(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())

	r.SetOutputSignal(LED5|LED6, LED5)
	assert.Equal(t, LED5, r.OutputShadow())
	assert.Empty(t, md.Writes())
}

func TestSetOutputSignalWriteErrorIsSwallowed(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())
	require.NoError(t, md.Close())

	assert.NotPanics(t, func() { r.SetOutputSignal(LED0, LED0) })
	assert.Equal(t, LED0, r.OutputShadow())
}

func TestOutputListener(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	type call struct{ mask, shadow Mask }
	calls := []call{}
	r.Subscribe(OutputListenerFunc(func(mask, shadow Mask) {
		calls = append(calls, call{mask, shadow})
	}))

	r.SetOutputSignal(LED0, LED0)
	r.SetOutputSignal(LED1, LED1)
	r.SetOutputSignal(LED1, LED1)

	assert.Equal(t, []call{
		{LED0, LED0},
		{LED1, LED0 | LED1},
		{LED1, LED0 | LED1},
	}, calls)
}

func TestOutputListenerFollowsConcurrentWriters(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	var lock sync.Mutex
	var last Mask
	r.Subscribe(OutputListenerFunc(func(mask, shadow Mask) {
		// a slow consumer for one state must not reorder deliveries
		if shadow == LED1 {
			time.Sleep(time.Millisecond)
		}
		lock.Lock()
		last = shadow
		lock.Unlock()
	}))

	for round := 0; round < 20; round++ {
		wg := sync.WaitGroup{}
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(levels Mask) {
				defer wg.Done()
				r.SetOutputSignal(r.OutputMask(), levels)
			}(Mask(1) << w)
		}
		wg.Wait()

		lock.Lock()
		assert.Equal(t, r.OutputShadow(), last, "round %d", round)
		lock.Unlock()
	}
}

func TestOutputListenerCanReadRegistry(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	seen := []Mask{}
	r.Subscribe(OutputListenerFunc(func(mask, shadow Mask) {
		seen = append(seen, r.OutputShadow())
	}))

	assert.Equal(t, LED2, r.SetOutputSignal(LED2, LED2))
	assert.Equal(t, LED2|LED3, r.SetOutputSignal(LED3, LED3))
	assert.Equal(t, []Mask{LED2, LED2 | LED3}, seen)
}

func TestGetInputSignalButton(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())

	assert.Equal(t, Mask(0), r.GetInputSignal(Button0))

	require.NoError(t, md.SetInput(0, 20, drivers.Low))
	assert.Equal(t, Button0, r.GetInputSignal(Button0))

	require.NoError(t, md.SetInput(0, 20, drivers.High))
	assert.Equal(t, Mask(0), r.GetInputSignal(Button0))
}

func TestGetInputSignalSamplesOnlyMask(t *testing.T) {
	bindings := testBoard()
	bindings = append(bindings, Binding{Name: "BUTTON1", Signal: 1, Pin: 21, Direction: Input, Pull: drivers.PullDown})
	r, md := newTestRegistry(t, bindings)

	require.NoError(t, md.SetInput(0, 21, drivers.High))
	assert.Equal(t, Button1, r.GetInputSignal(Button1))
	assert.Equal(t, []drivers.PinAddr{{Port: 0, Pin: 21}}, md.Reads())

	md.ResetHistory()
	assert.Equal(t, Mask(0), r.GetInputSignal(0))
	assert.Empty(t, md.Reads())
}

func TestGetInputSignalStaleBits(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())

	// Button1 is unbound and never sampled
	assert.Equal(t, Mask(0), r.GetInputSignal(Button0|Button1))

	require.NoError(t, md.SetInput(0, 20, drivers.Low))
	assert.Equal(t, Button0, r.GetInputSignal(Button0))

	// a read failure keeps the stale value
	require.NoError(t, md.Close())
	assert.Equal(t, Button0, r.GetInputSignal(Button0|Button1))
	assert.Equal(t, Mask(0), r.GetInputSignal(Button1))
	assert.Equal(t, Button0, r.InputShadow())
}

func TestValueStore(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	require.Equal(t, DefaultValueCount, r.ValueCount())
	r.SetValue(0, -42)
	assert.Equal(t, int32(-42), r.GetValue(0))

	r.SetValue(1, 7)
	r.SetValue(-1, 7)
	assert.Equal(t, int32(0), r.GetValue(1))
	assert.Equal(t, int32(0), r.GetValue(-1))
	assert.Equal(t, []int32{-42}, r.Snapshot().Values)

	r4, _ := newTestRegistry(t, testBoard(), WithValueCount(4))
	for i := 0; i < 4; i++ {
		r4.SetValue(i, int32(i*10))
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, int32(i*10), r4.GetValue(i))
	}
	assert.Equal(t, int32(0), r4.GetValue(4))
}

func TestUninitialize(t *testing.T) {
	r, md := newTestRegistry(t, testBoard())

	r.SetOutputSignal(r.OutputMask(), 0xF)
	require.NoError(t, r.Uninitialize())

	assert.Equal(t, Mask(0), r.OutputShadow())
	for _, pin := range []uint8{10, 11, 12, 13} {
		level, _ := md.OutputLevel(0, pin)
		assert.Equal(t, drivers.Low, level)
	}
}

func TestUninitializeNotifiesListeners(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	type call struct{ mask, shadow Mask }
	calls := []call{}
	r.Subscribe(OutputListenerFunc(func(mask, shadow Mask) {
		calls = append(calls, call{mask, shadow})
	}))

	r.SetOutputSignal(LED0|LED2, LED0|LED2)
	require.NoError(t, r.Uninitialize())

	assert.Equal(t, []call{
		{LED0 | LED2, LED0 | LED2},
		{LED0 | LED1 | LED2 | LED3, 0},
	}, calls)
}

func TestRegistryCounts(t *testing.T) {
	r, _ := newTestRegistry(t, testBoard())

	assert.Equal(t, 4, r.OutputCount())
	assert.Equal(t, 1, r.InputCount())
	assert.Equal(t, LED0|LED1|LED2|LED3, r.OutputMask())
	assert.Equal(t, Button0, r.InputMask())
	assert.Len(t, r.Bindings(), 5)
}

func TestNewRegistryRejects(t *testing.T) {
	md := &drivers.MockIoDriver{}

	_, err := NewRegistry(nil, testBoard())
	assert.Error(t, err)

	_, err = NewRegistry(md, []Binding{{Signal: 1, Direction: Output}})
	assert.Error(t, err)
}
