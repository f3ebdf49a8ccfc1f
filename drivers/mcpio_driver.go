package drivers

import (
	"context"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"

// McpIO drives an MCP23017 I2C expander. Port 0 is bank A, port 1 is bank B,
// each with pins 0-7.
type McpIO struct {
	device *mcp23017.Device

	inputs  map[uint8]Pull
	outputs map[uint8]bool
	isReady bool

	BusNo uint8
	DevNo uint8
}

func mcpPinNumber(port, pin uint8) (uint8, error) {
	if port > 1 {
		return 0, errors.Errorf("port %d out of range (mcpio has banks 0 and 1)", port)
	}
	if pin > 7 {
		return 0, errors.Errorf("pin %d out of range (mcpio takes 0-7 per bank)", pin)
	}
	return port*8 + pin, nil
}

func (mcp *McpIO) Setup(ctx context.Context) (err error) {
	mcp.device, err = mcp23017.Open(mcp.BusNo, mcp.DevNo)
	if err != nil {
		return errors.Wrapf(err, "failed to open mcp23017 at bus %d device %d", mcp.BusNo, mcp.DevNo)
	}

	mcp.inputs = make(map[uint8]Pull)
	mcp.outputs = make(map[uint8]bool)
	mcp.isReady = true
	return
}

func (mcp *McpIO) ConfigureOutput(port, pin uint8) error {
	if !mcp.isReady {
		return ErrNotReady
	}
	n, err := mcpPinNumber(port, pin)
	if err != nil {
		return err
	}
	err = mcp.device.PinMode(n, mcp23017.OUTPUT)
	if err != nil {
		return err
	}
	err = mcp.device.DigitalWrite(n, mcp23017.PinLevel(Low))
	if err != nil {
		return err
	}
	delete(mcp.inputs, n)
	mcp.outputs[n] = true
	return nil
}

// ConfigureInput enables the internal pull-up for PullUp; the expander has no
// pull-down, so PullDown is rejected.
func (mcp *McpIO) ConfigureInput(port, pin uint8, pull Pull) error {
	if !mcp.isReady {
		return ErrNotReady
	}
	n, err := mcpPinNumber(port, pin)
	if err != nil {
		return err
	}
	if pull == PullDown {
		return errors.Errorf("mcpio pin %d: pull-down not supported", n)
	}
	err = mcp.device.PinMode(n, mcp23017.INPUT)
	if err != nil {
		return err
	}
	if pull != PullNoChange {
		err = mcp.device.SetPullUp(n, pull == PullUp)
		if err != nil {
			return err
		}
	}
	delete(mcp.outputs, n)
	mcp.inputs[n] = pull
	return nil
}

func (mcp *McpIO) Write(port, pin uint8, level Level) error {
	if !mcp.isReady {
		return ErrNotReady
	}
	n, err := mcpPinNumber(port, pin)
	if err != nil {
		return err
	}
	return mcp.device.DigitalWrite(n, mcp23017.PinLevel(level))
}

func (mcp *McpIO) Read(port, pin uint8) (Level, error) {
	if !mcp.isReady {
		return Low, ErrNotReady
	}
	n, err := mcpPinNumber(port, pin)
	if err != nil {
		return Low, err
	}
	raw, err := mcp.device.DigitalRead(n)
	if err != nil {
		return Low, err
	}
	return Level(raw), nil
}

func (mcp *McpIO) String() string {
	return mcpioDriverName
}

func (mcp *McpIO) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpIO) Close() error {
	if !mcp.isReady {
		return nil
	}
	mcp.isReady = false
	for n := range mcp.outputs {
		mcp.device.DigitalWrite(n, mcp23017.PinLevel(Low))
	}
	return mcp.device.Close()
}

func (mcp *McpIO) GetAllIo() (inputs []PinAddr, outputs []PinAddr) {
	for n := range mcp.inputs {
		inputs = append(inputs, PinAddr{Port: n / 8, Pin: n % 8})
	}
	for n := range mcp.outputs {
		outputs = append(outputs, PinAddr{Port: n / 8, Pin: n % 8})
	}
	return
}
