// Package vio maps virtual signal bits onto physical pins.
//
// Application code addresses outputs and inputs through 32-bit masks. A
// Registry keeps the last written output state and the last sampled input
// state in shadow registers and drives the pins through a drivers.PinDriver,
// applying each binding's polarity on the way.
package vio

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MaxSignals is the size of each signal namespace.
const MaxSignals = 32

// Mask selects signal bits. Output and input masks are separate namespaces.
type Mask uint32

// Signal is a bit position in a Mask.
type Signal uint8

func (s Signal) Mask() Mask {
	return Mask(1) << s
}

func (s Signal) Valid() bool {
	return s < MaxSignals
}

// Output signals.
const (
	LED0 Mask = 1 << iota
	LED1
	LED2
	LED3
	LED4
	LED5
	LED6
	LED7
)

// Input signals.
const (
	Button0 Mask = 1 << iota
	Button1
	Button2
	Button3
)

// Has reports whether every bit of other is set in m.
func (m Mask) Has(other Mask) bool {
	return m&other == other
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// Signals lists set bits in ascending order.
func (m Mask) Signals() []Signal {
	signals := make([]Signal, 0, m.Count())
	for rest := uint32(m); rest != 0; rest &= rest - 1 {
		signals = append(signals, Signal(bits.TrailingZeros32(rest)))
	}
	return signals
}

func (m Mask) String() string {
	return fmt.Sprintf("0b%b", uint32(m))
}

// ParseMask accepts decimal, 0x hex and 0b binary notation.
func ParseMask(s string) (Mask, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid mask %q", s)
	}
	return Mask(v), nil
}

// Direction of a binding.
type Direction int

const (
	Output Direction = iota
	Input
)

func (d Direction) String() string {
	if d == Input {
		return "Input"
	}
	return "Output"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "output", "out":
		*d = Output
	case "input", "in":
		*d = Input
	default:
		return errors.Errorf("unknown direction %q", text)
	}
	return nil
}

// Duration reads "500ms"-style strings or plain milliseconds from JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err == nil {
		*d = Duration(ms * float64(time.Millisecond))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "duration must be a string or milliseconds")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}
