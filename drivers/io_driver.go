package drivers

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotReady is returned by pin operations issued before Setup.
var ErrNotReady = errors.New("driver not ready")

// PinDriver is the pin capability a signal registry drives. Configure calls
// must be safe to repeat.
type PinDriver interface {
	Setup(ctx context.Context) error
	ConfigureOutput(port, pin uint8) error
	ConfigureInput(port, pin uint8, pull Pull) error
	Write(port, pin uint8, level Level) error
	Read(port, pin uint8) (Level, error)
	Close() error
	String() string
	IsReady() bool
	GetAllIo() (inputs []PinAddr, outputs []PinAddr)
}

func MapAllPinDrivers() map[string]PinDriver {
	drivers := []PinDriver{
		&GpIO{},
		&McpIO{},
		&PeriphIO{},
		&GpiodIO{},
		&RemoteIO{},
		&MockIoDriver{},
	}

	mapped := make(map[string]PinDriver)
	for _, driver := range drivers {
		mapped[driver.String()] = driver
	}
	return mapped
}

// Level is the electrical level of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "High"
	}
	return "Low"
}

// Pull is the input resistor configuration.
type Pull int

const (
	PullNoChange Pull = 0
	Float        Pull = 1
	PullDown     Pull = 2
	PullUp       Pull = 3
)

func (p Pull) String() string {
	switch p {
	case PullNoChange:
		return "NoChange"
	case Float:
		return "Float"
	case PullDown:
		return "PullDown"
	case PullUp:
		return "PullUp"
	default:
		return "Unknown"
	}
}

func (p Pull) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the names printed by String, case insensitive.
func (p *Pull) UnmarshalText(text []byte) error {
	for _, candidate := range []Pull{PullNoChange, Float, PullDown, PullUp} {
		if strings.EqualFold(candidate.String(), string(text)) {
			*p = candidate
			return nil
		}
	}
	return errors.Errorf("unknown pull mode %q", text)
}

// PinAddr is a port/pin pair as used by the drivers' bookkeeping.
type PinAddr struct {
	Port uint8
	Pin  uint8
}
