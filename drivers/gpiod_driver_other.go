//go:build !linux

package drivers

import (
	"context"

	"github.com/pkg/errors"
)

const gpiodDriverName = "gpiod"

var errGpiodUnsupported = errors.New("gpiod driver requires linux")

// GpiodIO is unavailable outside linux; every call fails.
type GpiodIO struct {
	Consumer string
}

func (gd *GpiodIO) Setup(ctx context.Context) error { return errGpiodUnsupported }

func (gd *GpiodIO) ConfigureOutput(port, pin uint8) error { return errGpiodUnsupported }

func (gd *GpiodIO) ConfigureInput(port, pin uint8, pull Pull) error { return errGpiodUnsupported }

func (gd *GpiodIO) Write(port, pin uint8, level Level) error { return errGpiodUnsupported }

func (gd *GpiodIO) Read(port, pin uint8) (Level, error) { return Low, errGpiodUnsupported }

func (gd *GpiodIO) String() string { return gpiodDriverName }

func (gd *GpiodIO) IsReady() bool { return false }

func (gd *GpiodIO) Close() error { return nil }

func (gd *GpiodIO) GetAllIo() (inputs []PinAddr, outputs []PinAddr) { return }
