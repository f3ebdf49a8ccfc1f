package drivers

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

type MockOutput struct {
	Level Level
	addr  PinAddr
}

type MockInput struct {
	Level Level
	Pull  Pull
	addr  PinAddr
}

// MockWrite is one recorded Write call.
type MockWrite struct {
	Port  uint8
	Pin   uint8
	Level Level
}

// MockIoDriver keeps pin state in memory and records every write and read,
// so registry behaviour can be checked without hardware.
type MockIoDriver struct {
	// FailConfigure makes Configure* fail for the listed pins.
	FailConfigure map[PinAddr]bool

	lock    sync.Mutex
	inputs  map[PinAddr]*MockInput
	outputs map[PinAddr]*MockOutput
	writes  []MockWrite
	reads   []PinAddr
	ready   bool

	writeTo          io.Writer
	writeStateChange bool
}

func (md *MockIoDriver) Setup(ctx context.Context) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	if md.inputs == nil {
		md.inputs = make(map[PinAddr]*MockInput)
	}
	if md.outputs == nil {
		md.outputs = make(map[PinAddr]*MockOutput)
	}
	md.ready = true
	return nil
}

func (md *MockIoDriver) ConfigureOutput(port, pin uint8) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	addr := PinAddr{Port: port, Pin: pin}
	if !md.ready {
		return ErrNotReady
	}
	if md.FailConfigure[addr] {
		return errors.Errorf("mock output %d.%d failed to configure", port, pin)
	}
	delete(md.inputs, addr)
	if _, found := md.outputs[addr]; !found {
		md.outputs[addr] = &MockOutput{addr: addr}
	}
	return nil
}

func (md *MockIoDriver) ConfigureInput(port, pin uint8, pull Pull) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	addr := PinAddr{Port: port, Pin: pin}
	if !md.ready {
		return ErrNotReady
	}
	if md.FailConfigure[addr] {
		return errors.Errorf("mock input %d.%d failed to configure", port, pin)
	}
	delete(md.outputs, addr)
	in, found := md.inputs[addr]
	if !found {
		in = &MockInput{addr: addr}
		md.inputs[addr] = in
		switch pull {
		case PullUp:
			in.Level = High
		case PullDown:
			in.Level = Low
		}
	}
	in.Pull = pull
	return nil
}

func (md *MockIoDriver) Write(port, pin uint8, level Level) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	if !md.ready {
		return ErrNotReady
	}
	out, found := md.outputs[PinAddr{Port: port, Pin: pin}]
	if !found {
		return errors.Errorf("mock output %d.%d not found", port, pin)
	}
	if md.writeStateChange && level != out.Level {
		fmt.Fprintf(md.writeTo, "[pin %d.%d] state changed to %v\n", port, pin, level)
	}
	out.Level = level
	md.writes = append(md.writes, MockWrite{Port: port, Pin: pin, Level: level})
	return nil
}

func (md *MockIoDriver) Read(port, pin uint8) (Level, error) {
	md.lock.Lock()
	defer md.lock.Unlock()

	if !md.ready {
		return Low, ErrNotReady
	}
	addr := PinAddr{Port: port, Pin: pin}
	md.reads = append(md.reads, addr)
	if in, found := md.inputs[addr]; found {
		return in.Level, nil
	}
	if out, found := md.outputs[addr]; found {
		return out.Level, nil
	}
	return Low, errors.Errorf("mock pin %d.%d not found", port, pin)
}

// SetInput simulates an external level on an input pin.
func (md *MockIoDriver) SetInput(port, pin uint8, level Level) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	in, found := md.inputs[PinAddr{Port: port, Pin: pin}]
	if !found {
		return errors.Errorf("mock input %d.%d not found", port, pin)
	}
	in.Level = level
	return nil
}

// OutputLevel returns the last level written to an output pin.
func (md *MockIoDriver) OutputLevel(port, pin uint8) (Level, bool) {
	md.lock.Lock()
	defer md.lock.Unlock()

	out, found := md.outputs[PinAddr{Port: port, Pin: pin}]
	if !found {
		return Low, false
	}
	return out.Level, true
}

// Writes returns a copy of the recorded writes.
func (md *MockIoDriver) Writes() []MockWrite {
	md.lock.Lock()
	defer md.lock.Unlock()

	return append([]MockWrite(nil), md.writes...)
}

// Reads returns a copy of the recorded read addresses.
func (md *MockIoDriver) Reads() []PinAddr {
	md.lock.Lock()
	defer md.lock.Unlock()

	return append([]PinAddr(nil), md.reads...)
}

// ResetHistory forgets recorded writes and reads, pin state is kept.
func (md *MockIoDriver) ResetHistory() {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.writes = nil
	md.reads = nil
}

func (md *MockIoDriver) Close() error {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.ready = false
	return nil
}

func (md *MockIoDriver) String() string {
	return "mock_driver"
}

func (md *MockIoDriver) IsReady() bool {
	md.lock.Lock()
	defer md.lock.Unlock()

	return md.ready
}

func (md *MockIoDriver) GetAllIo() (inputs []PinAddr, outputs []PinAddr) {
	md.lock.Lock()
	defer md.lock.Unlock()

	for addr := range md.inputs {
		inputs = append(inputs, addr)
	}
	for addr := range md.outputs {
		outputs = append(outputs, addr)
	}
	return
}

func (md *MockIoDriver) MonitorStateChanges(writer io.Writer) {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.writeTo = writer
	md.writeStateChange = writer != nil
}
