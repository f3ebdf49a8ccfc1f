package drivers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"

// GpIO drives the Raspberry Pi header through go-rpio. Only port 0 exists,
// pins are BCM numbers.
type GpIO struct {
	inputs  map[uint8]Pull
	outputs map[uint8]bool

	isReady bool
}

func (gp *GpIO) Setup(ctx context.Context) error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrap(err, "failed to Setup gpio driver")
	}

	gp.inputs = make(map[uint8]Pull)
	gp.outputs = make(map[uint8]bool)
	gp.isReady = true
	return nil
}

func (gp *GpIO) pin(port, pin uint8) (rpio.Pin, error) {
	if !gp.isReady {
		return 0, ErrNotReady
	}
	if port != 0 {
		return 0, errors.Errorf("port %d out of range (gpio has only port 0)", port)
	}
	if pin > 27 {
		return 0, errors.Errorf("pin %d out of range (gpio takes BCM 0-27)", pin)
	}
	return rpio.Pin(pin), nil
}

func (gp *GpIO) ConfigureOutput(port, pin uint8) error {
	p, err := gp.pin(port, pin)
	if err != nil {
		return err
	}
	p.Output()
	p.Low()
	delete(gp.inputs, pin)
	gp.outputs[pin] = true
	return nil
}

func (gp *GpIO) ConfigureInput(port, pin uint8, pull Pull) error {
	p, err := gp.pin(port, pin)
	if err != nil {
		return err
	}
	p.Input()
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	case Float:
		p.PullOff()
	}
	delete(gp.outputs, pin)
	gp.inputs[pin] = pull
	return nil
}

func (gp *GpIO) Write(port, pin uint8, level Level) error {
	p, err := gp.pin(port, pin)
	if err != nil {
		return err
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (gp *GpIO) Read(port, pin uint8) (Level, error) {
	p, err := gp.pin(port, pin)
	if err != nil {
		return Low, err
	}
	return p.Read() == rpio.High, nil
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) IsReady() bool {
	return gp.isReady
}

func (gp *GpIO) Close() error {
	if !gp.isReady {
		return nil
	}
	gp.isReady = false
	for pin := range gp.outputs {
		rpio.Pin(pin).Low()
	}
	return rpio.Close()
}

func (gp *GpIO) GetAllIo() (inputs []PinAddr, outputs []PinAddr) {
	for pin := range gp.inputs {
		inputs = append(inputs, PinAddr{Pin: pin})
	}
	for pin := range gp.outputs {
		outputs = append(outputs, PinAddr{Pin: pin})
	}
	return
}
