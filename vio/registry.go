package vio

import (
	"math/bits"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/swvio/drivers"
)

// OutputListener is notified after every SetOutputSignal call with the mask
// that was written and the resulting output shadow. Notifications arrive in
// write order, one at a time. Listeners may read the registry but must not
// write outputs.
type OutputListener interface {
	OutputChanged(mask, shadow Mask)
}

type OutputListenerFunc func(mask, shadow Mask)

func (f OutputListenerFunc) OutputChanged(mask, shadow Mask) {
	f(mask, shadow)
}

// Snapshot is a copy of the registry state.
type Snapshot struct {
	Output Mask
	Input  Mask
	Values []int32
}

// Registry owns the signal to pin table, the output and input shadow
// registers and the value store of one board.
//
// All operations are serialized internally. Pin I/O errors at runtime are
// logged and never returned; only Initialize and Uninitialize report errors.
type Registry struct {
	driver drivers.PinDriver
	logger *log.Logger
	values *ValueStore

	bindings []Binding
	outputs  [MaxSignals]*Binding
	inputs   [MaxSignals]*Binding

	lock         sync.Mutex
	outputShadow Mask
	inputShadow  Mask
	listeners    []OutputListener
	pending      []outputEvent

	// held while listeners run, always taken before lock
	notifyLock sync.Mutex
}

type outputEvent struct {
	mask, shadow Mask
}

type Option func(*Registry)

// WithValueCount sets the value store length.
func WithValueCount(n int) Option {
	return func(r *Registry) {
		r.values = NewValueStore(n)
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry validates bindings and builds the lookup tables. Pins are not
// touched until Initialize.
func NewRegistry(driver drivers.PinDriver, bindings []Binding, opts ...Option) (*Registry, error) {
	if driver == nil {
		return nil, errors.New("registry needs a pin driver")
	}
	err := ValidateBindings(bindings)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		driver:   driver,
		bindings: append([]Binding(nil), bindings...),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.values == nil {
		r.values = NewValueStore(DefaultValueCount)
	}
	if r.logger == nil {
		r.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "vio",
			Level:  log.GetLevel(),
		})
	}

	for i := range r.bindings {
		b := &r.bindings[i]
		if b.Direction == Input {
			r.inputs[b.Signal] = b
		} else {
			r.outputs[b.Signal] = b
		}
	}

	return r, nil
}

// Initialize zeroes the shadow registers and the value store, then configures
// every binding: outputs are driven to their inactive level, inputs get their
// pull mode. All bindings are attempted; the first failure is returned.
func (r *Registry) Initialize() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.outputShadow = 0
	r.inputShadow = 0
	r.values.Reset()

	var firstErr error
	failed := 0
	for i := range r.bindings {
		b := &r.bindings[i]
		err := r.configure(b)
		if err != nil {
			r.logger.Error("failed to configure binding", "binding", b, "err", err)
			failed++
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to configure %s", b)
			}
		}
	}
	if failed > 0 {
		return errors.Wrapf(firstErr, "%d of %d bindings failed", failed, len(r.bindings))
	}

	r.logger.Debug("registry initialized", "driver", r.driver, "outputs", r.OutputCount(), "inputs", r.InputCount())
	return nil
}

func (r *Registry) configure(b *Binding) error {
	if b.Direction == Input {
		return r.driver.ConfigureInput(b.Port, b.Pin, b.Pull)
	}
	err := r.driver.ConfigureOutput(b.Port, b.Pin)
	if err != nil {
		return err
	}
	return r.driver.Write(b.Port, b.Pin, b.level(false))
}

// Uninitialize drives every output inactive and clears both shadows.
// Listeners see one write of the full output mask.
func (r *Registry) Uninitialize() error {
	r.lock.Lock()
	r.outputShadow = 0
	r.inputShadow = 0

	var firstErr error
	for _, b := range r.outputs {
		if b == nil {
			continue
		}
		err := r.driver.Write(b.Port, b.Pin, b.level(false))
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to release %s", b)
		}
	}
	r.pending = append(r.pending, outputEvent{mask: r.OutputMask()})
	r.lock.Unlock()

	r.notify()
	return firstErr
}

// SetOutputSignal copies the bits of levels selected by mask into the output
// shadow and drives every bound pin in mask, in ascending bit order. Pins are
// written on every call, even when the shadow does not change. Bits outside
// mask are left alone. It returns the output shadow right after this write.
func (r *Registry) SetOutputSignal(mask, levels Mask) Mask {
	r.lock.Lock()
	r.outputShadow &^= mask
	r.outputShadow |= mask & levels
	shadow := r.outputShadow

	for rest := uint32(mask); rest != 0; rest &= rest - 1 {
		b := r.outputs[bits.TrailingZeros32(rest)]
		if b == nil {
			continue
		}
		err := r.driver.Write(b.Port, b.Pin, b.level(shadow.Has(b.Signal.Mask())))
		if err != nil {
			r.logger.Warn("output write failed", "binding", b, "err", err)
		}
	}
	r.pending = append(r.pending, outputEvent{mask: mask, shadow: shadow})
	r.lock.Unlock()

	r.notify()
	return shadow
}

// notify delivers queued output events in the order they were written.
// Whichever writer holds notifyLock drains events queued by the others.
func (r *Registry) notify() {
	r.notifyLock.Lock()
	defer r.notifyLock.Unlock()

	for {
		r.lock.Lock()
		events := r.pending
		r.pending = nil
		listeners := r.listeners
		r.lock.Unlock()

		if len(events) == 0 {
			return
		}
		for _, e := range events {
			for _, l := range listeners {
				l.OutputChanged(e.mask, e.shadow)
			}
		}
	}
}

// GetInputSignal samples every bound input in mask into the input shadow and
// returns the shadow restricted to mask. Unbound bits keep their previous
// value. Nothing outside mask is sampled.
func (r *Registry) GetInputSignal(mask Mask) Mask {
	r.lock.Lock()
	defer r.lock.Unlock()

	for rest := uint32(mask); rest != 0; rest &= rest - 1 {
		b := r.inputs[bits.TrailingZeros32(rest)]
		if b == nil {
			continue
		}
		level, err := r.driver.Read(b.Port, b.Pin)
		if err != nil {
			r.logger.Warn("input read failed", "binding", b, "err", err)
			continue
		}
		if b.active(level) {
			r.inputShadow |= b.Signal.Mask()
		} else {
			r.inputShadow &^= b.Signal.Mask()
		}
	}

	return r.inputShadow & mask
}

func (r *Registry) SetValue(index int, value int32) {
	r.values.Set(index, value)
}

func (r *Registry) GetValue(index int) int32 {
	return r.values.Get(index)
}

func (r *Registry) ValueCount() int {
	return r.values.Len()
}

func (r *Registry) OutputShadow() Mask {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.outputShadow
}

// InputShadow returns the last sampled inputs without sampling.
func (r *Registry) InputShadow() Mask {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.inputShadow
}

func (r *Registry) Snapshot() Snapshot {
	r.lock.Lock()
	out, in := r.outputShadow, r.inputShadow
	r.lock.Unlock()

	return Snapshot{Output: out, Input: in, Values: r.values.Snapshot()}
}

func (r *Registry) Bindings() []Binding {
	return append([]Binding(nil), r.bindings...)
}

// OutputMask covers every bound output signal.
func (r *Registry) OutputMask() Mask {
	return OutputMask(r.bindings)
}

// InputMask covers every bound input signal.
func (r *Registry) InputMask() Mask {
	return InputMask(r.bindings)
}

func (r *Registry) OutputCount() int {
	return r.OutputMask().Count()
}

func (r *Registry) InputCount() int {
	return r.InputMask().Count()
}

func (r *Registry) Driver() drivers.PinDriver {
	return r.driver
}

func (r *Registry) Subscribe(l OutputListener) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.listeners = append(r.listeners[:len(r.listeners):len(r.listeners)], l)
}
