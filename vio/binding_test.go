package vio

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubertat/swvio/drivers"
)

func TestValidateBindings(t *testing.T) {
	cases := []struct {
		name     string
		bindings []Binding
		wantErr  bool
	}{
		{"empty", nil, false},
		{"test board", testBoard(), false},
		{"shared bit across directions", []Binding{
			{Signal: 0, Direction: Output},
			{Signal: 0, Direction: Input},
		}, false},
		{"duplicate output", []Binding{
			{Signal: 0, Direction: Output},
			{Signal: 0, Direction: Output, Pin: 1},
		}, true},
		{"gap", []Binding{
			{Signal: 0, Direction: Output},
			{Signal: 2, Direction: Output},
		}, true},
		{"not from zero", []Binding{{Signal: 1, Direction: Input}}, true},
		{"out of range", []Binding{{Signal: 32, Direction: Output}}, true},
		{"bad direction", []Binding{{Signal: 0, Direction: Direction(7)}}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateBindings(c.bindings)
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	full := []Binding{}
	for i := 0; i < MaxSignals; i++ {
		full = append(full, Binding{Signal: Signal(i), Pin: uint8(i)})
	}
	assert.NoError(t, ValidateBindings(full))
}

func TestBindingJSON(t *testing.T) {
	raw := `{"Name": "BUTTON0", "Signal": 0, "Port": 1, "Pin": 0, "Direction": "input", "Pull": "PullUp", "ActiveLow": true}`

	var b Binding
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	assert.Equal(t, Binding{
		Name:      "BUTTON0",
		Port:      1,
		Direction: Input,
		Pull:      drivers.PullUp,
		ActiveLow: true,
	}, b)
	assert.Equal(t, "BUTTON0(P1.0)", b.String())
}

func TestMask(t *testing.T) {
	assert.Equal(t, 3, (LED0 | LED2 | LED7).Count())
	assert.Equal(t, []Signal{0, 2, 7}, (LED0 | LED2 | LED7).Signals())
	assert.Empty(t, Mask(0).Signals())
	assert.True(t, (LED0 | LED1).Has(LED1))
	assert.False(t, LED0.Has(LED0|LED1))
	assert.Equal(t, LED3, Signal(3).Mask())
	assert.Equal(t, "0b101", (LED0 | LED2).String())

	for in, want := range map[string]Mask{"15": 0xF, "0x10": LED4, "0b0011": LED0 | LED1, " 0 ": 0} {
		got, err := ParseMask(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMask("0x100000000")
	assert.Error(t, err)
	_, err = ParseMask("led")
	assert.Error(t, err)
}

func TestBoards(t *testing.T) {
	assert.Equal(t, []string{"mbed-lpc1768", "mcp23017-demo", "rpi-demo"}, BoardNames())

	for _, name := range BoardNames() {
		board, err := BoardByName(name)
		require.NoError(t, err)
		assert.NoError(t, ValidateBindings(board.Bindings), name)
		assert.Equal(t, LED0|LED1|LED2|LED3, OutputMask(board.Bindings), name)
	}

	mbed, err := BoardByName("MBED-LPC1768")
	require.NoError(t, err)
	pins := []uint8{}
	for _, b := range mbed.Bindings {
		assert.Equal(t, uint8(1), b.Port)
		pins = append(pins, b.Pin)
	}
	assert.Equal(t, []uint8{18, 20, 21, 23}, pins)

	rpi, _ := BoardByName("rpi-demo")
	assert.Equal(t, Button0, InputMask(rpi.Bindings))

	_, err = BoardByName("atari")
	assert.ErrorIs(t, err, ErrUnknownBoard)
}

func TestTickerScheduler(t *testing.T) {
	ts := NewTickerScheduler()
	ctx, cancel := context.WithCancel(context.Background())

	ticks := make(chan struct{}, 16)
	ts.Go(ctx, "ticker", func(ctx context.Context) error {
		return ts.Every(ctx, "tick", time.Millisecond, func() {
			select {
			case ticks <- struct{}{}:
			default:
			}
		})
	})

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("ticker did not fire")
		}
	}
	cancel()
	ts.Wait()

	err := ts.Every(context.Background(), "bad", 0, func() {})
	assert.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	var cfg struct {
		A Duration
		B Duration
	}
	require.NoError(t, json.Unmarshal([]byte(`{"A": "1.5s", "B": 250}`), &cfg))
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.A)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.B)

	assert.Error(t, json.Unmarshal([]byte(`{"A": "soon"}`), &cfg))
	assert.Error(t, json.Unmarshal([]byte(`{"A": true}`), &cfg))
}
