package drivers

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const periphDriverName = "periph"

// PeriphIO resolves pins through the periph.io registry, so it works on any
// host periph supports. Only port 0 exists, pins are GPIO numbers.
type PeriphIO struct {
	pins    map[uint8]gpio.PinIO
	inputs  map[uint8]Pull
	outputs map[uint8]bool
	isReady bool

	hostInit func() error
	byName   func(name string) gpio.PinIO
}

func (pio *PeriphIO) Setup(ctx context.Context) error {
	if pio.hostInit == nil {
		pio.hostInit = func() error {
			_, err := host.Init()
			return err
		}
	}
	if pio.byName == nil {
		pio.byName = gpioreg.ByName
	}

	err := pio.hostInit()
	if err != nil {
		return errors.Wrap(err, "failed to init periph host drivers")
	}

	pio.pins = make(map[uint8]gpio.PinIO)
	pio.inputs = make(map[uint8]Pull)
	pio.outputs = make(map[uint8]bool)
	pio.isReady = true
	return nil
}

func (pio *PeriphIO) pin(port, pin uint8) (gpio.PinIO, error) {
	if !pio.isReady {
		return nil, ErrNotReady
	}
	if port != 0 {
		return nil, errors.Errorf("port %d out of range (periph has only port 0)", port)
	}
	if p, found := pio.pins[pin]; found {
		return p, nil
	}
	p := pio.byName(strconv.Itoa(int(pin)))
	if p == nil {
		return nil, errors.Errorf("periph pin %d not found", pin)
	}
	pio.pins[pin] = p
	return p, nil
}

func periphPull(p Pull) gpio.Pull {
	switch p {
	case Float:
		return gpio.Float
	case PullDown:
		return gpio.PullDown
	case PullUp:
		return gpio.PullUp
	default:
		return gpio.PullNoChange
	}
}

func (pio *PeriphIO) ConfigureOutput(port, pin uint8) error {
	p, err := pio.pin(port, pin)
	if err != nil {
		return err
	}
	err = p.Out(gpio.Low)
	if err != nil {
		return errors.Wrapf(err, "failed to set %s as output", p)
	}
	delete(pio.inputs, pin)
	pio.outputs[pin] = true
	return nil
}

func (pio *PeriphIO) ConfigureInput(port, pin uint8, pull Pull) error {
	p, err := pio.pin(port, pin)
	if err != nil {
		return err
	}
	err = p.In(periphPull(pull), gpio.NoEdge)
	if err != nil {
		return errors.Wrapf(err, "failed to set %s as input", p)
	}
	delete(pio.outputs, pin)
	pio.inputs[pin] = pull
	return nil
}

func (pio *PeriphIO) Write(port, pin uint8, level Level) error {
	p, err := pio.pin(port, pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

func (pio *PeriphIO) Read(port, pin uint8) (Level, error) {
	p, err := pio.pin(port, pin)
	if err != nil {
		return Low, err
	}
	return Level(p.Read()), nil
}

func (pio *PeriphIO) String() string {
	return periphDriverName
}

func (pio *PeriphIO) IsReady() bool {
	return pio.isReady
}

func (pio *PeriphIO) Close() (err error) {
	if !pio.isReady {
		return nil
	}
	pio.isReady = false
	for n := range pio.outputs {
		outErr := pio.pins[n].Out(gpio.Low)
		if outErr != nil && err == nil {
			err = outErr
		}
	}
	for _, p := range pio.pins {
		haltErr := p.Halt()
		if haltErr != nil && err == nil {
			err = haltErr
		}
	}
	return
}

func (pio *PeriphIO) GetAllIo() (inputs []PinAddr, outputs []PinAddr) {
	for n := range pio.inputs {
		inputs = append(inputs, PinAddr{Pin: n})
	}
	for n := range pio.outputs {
		outputs = append(outputs, PinAddr{Pin: n})
	}
	return
}
