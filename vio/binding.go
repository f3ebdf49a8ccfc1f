package vio

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/hubertat/swvio/drivers"
)

// Binding ties one virtual signal to a physical pin.
type Binding struct {
	Name      string
	Signal    Signal
	Port      uint8
	Pin       uint8
	Direction Direction
	Pull      drivers.Pull
	// ActiveLow drives the pin Low when the signal is active.
	ActiveLow bool
}

func (b Binding) String() string {
	name := b.Name
	if len(name) == 0 {
		name = fmt.Sprintf("%s%d", b.Direction, b.Signal)
	}
	return fmt.Sprintf("%s(P%d.%d)", name, b.Port, b.Pin)
}

// level translates a logical state into the pin level.
func (b Binding) level(active bool) drivers.Level {
	return drivers.Level(active != b.ActiveLow)
}

// active translates a pin level into the logical state.
func (b Binding) active(level drivers.Level) bool {
	return bool(level) != b.ActiveLow
}

// ValidateBindings checks that signals fit the address space, appear at most
// once per direction and are numbered contiguously from 0 per direction.
func ValidateBindings(bindings []Binding) error {
	var seen [2]Mask
	for _, b := range bindings {
		if !b.Signal.Valid() {
			return errors.Errorf("binding %s: signal %d out of range", b, b.Signal)
		}
		if b.Direction != Output && b.Direction != Input {
			return errors.Errorf("binding %s: unknown direction %d", b, b.Direction)
		}
		if seen[b.Direction].Has(b.Signal.Mask()) {
			return errors.Errorf("binding %s: %s signal %d bound twice", b, b.Direction, b.Signal)
		}
		seen[b.Direction] |= b.Signal.Mask()
	}

	for dir, mask := range seen {
		// contiguous from bit 0 means mask+1 is a power of two
		if mask&(mask+1) != 0 {
			return errors.Errorf("%s signals %s are not contiguous from 0", Direction(dir), mask)
		}
	}
	return nil
}

// OutputMask returns the mask of all output signals in bindings.
func OutputMask(bindings []Binding) (mask Mask) {
	for _, b := range bindings {
		if b.Direction == Output {
			mask |= b.Signal.Mask()
		}
	}
	return
}

// InputMask returns the mask of all input signals in bindings.
func InputMask(bindings []Binding) (mask Mask) {
	for _, b := range bindings {
		if b.Direction == Input {
			mask |= b.Signal.Mask()
		}
	}
	return
}
