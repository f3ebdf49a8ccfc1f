//go:build linux

package drivers

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/warthog618/gpiod"
)

const gpiodDriverName = "gpiod"

// GpiodIO drives lines of the Linux GPIO character device. The port selects
// the chip (gpiochipN), the pin is the line offset.
type GpiodIO struct {
	Consumer string

	chips   map[uint8]*gpiod.Chip
	lines   map[PinAddr]*gpiod.Line
	inputs  map[PinAddr]Pull
	outputs map[PinAddr]bool
	isReady bool
}

func (gd *GpiodIO) Setup(ctx context.Context) error {
	if len(gd.Consumer) == 0 {
		gd.Consumer = "swvio"
	}
	gd.chips = make(map[uint8]*gpiod.Chip)
	gd.lines = make(map[PinAddr]*gpiod.Line)
	gd.inputs = make(map[PinAddr]Pull)
	gd.outputs = make(map[PinAddr]bool)
	gd.isReady = true
	return nil
}

func (gd *GpiodIO) chip(port uint8) (*gpiod.Chip, error) {
	if c, found := gd.chips[port]; found {
		return c, nil
	}
	c, err := gpiod.NewChip(fmt.Sprintf("gpiochip%d", port), gpiod.WithConsumer(gd.Consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gpiochip%d", port)
	}
	gd.chips[port] = c
	return c, nil
}

func gpiodBias(p Pull) gpiod.LineConfigOption {
	switch p {
	case PullUp:
		return gpiod.WithPullUp
	case PullDown:
		return gpiod.WithPullDown
	case Float:
		return gpiod.WithBiasDisabled
	default:
		return nil
	}
}

// request returns the line for addr, requesting it with opts on first use and
// reconfiguring it afterwards.
func (gd *GpiodIO) request(addr PinAddr, opts ...gpiod.LineConfigOption) (*gpiod.Line, error) {
	if !gd.isReady {
		return nil, ErrNotReady
	}
	if l, found := gd.lines[addr]; found {
		if len(opts) == 0 {
			return l, nil
		}
		return l, l.Reconfigure(opts...)
	}
	c, err := gd.chip(addr.Port)
	if err != nil {
		return nil, err
	}
	reqOpts := []gpiod.LineReqOption{}
	for _, o := range opts {
		if ro, ok := o.(gpiod.LineReqOption); ok {
			reqOpts = append(reqOpts, ro)
		}
	}
	l, err := c.RequestLine(int(addr.Pin), reqOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to request line %d on gpiochip%d", addr.Pin, addr.Port)
	}
	gd.lines[addr] = l
	return l, nil
}

func (gd *GpiodIO) ConfigureOutput(port, pin uint8) error {
	addr := PinAddr{Port: port, Pin: pin}
	_, err := gd.request(addr, gpiod.AsOutput(0))
	if err != nil {
		return err
	}
	delete(gd.inputs, addr)
	gd.outputs[addr] = true
	return nil
}

func (gd *GpiodIO) ConfigureInput(port, pin uint8, pull Pull) error {
	addr := PinAddr{Port: port, Pin: pin}
	opts := []gpiod.LineConfigOption{gpiod.AsInput}
	if bias := gpiodBias(pull); bias != nil {
		opts = append(opts, bias)
	}
	_, err := gd.request(addr, opts...)
	if err != nil {
		return err
	}
	delete(gd.outputs, addr)
	gd.inputs[addr] = pull
	return nil
}

func (gd *GpiodIO) Write(port, pin uint8, level Level) error {
	l, err := gd.request(PinAddr{Port: port, Pin: pin})
	if err != nil {
		return err
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (gd *GpiodIO) Read(port, pin uint8) (Level, error) {
	l, err := gd.request(PinAddr{Port: port, Pin: pin})
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	return v != 0, nil
}

func (gd *GpiodIO) String() string {
	return gpiodDriverName
}

func (gd *GpiodIO) IsReady() bool {
	return gd.isReady
}

func (gd *GpiodIO) Close() (err error) {
	if !gd.isReady {
		return nil
	}
	gd.isReady = false
	for addr, l := range gd.lines {
		if gd.outputs[addr] {
			l.SetValue(0)
		}
		closeErr := l.Close()
		if closeErr != nil && err == nil {
			err = closeErr
		}
	}
	for _, c := range gd.chips {
		closeErr := c.Close()
		if closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return
}

func (gd *GpiodIO) GetAllIo() (inputs []PinAddr, outputs []PinAddr) {
	for addr := range gd.inputs {
		inputs = append(inputs, addr)
	}
	for addr := range gd.outputs {
		outputs = append(outputs, addr)
	}
	return
}
