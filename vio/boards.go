package vio

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hubertat/swvio/drivers"
)

var ErrUnknownBoard = errors.New("unknown board")

// Board is a named binding table together with the driver it is wired to.
type Board struct {
	Name       string
	DriverName string
	Bindings   []Binding
}

func ledBindings(port uint8, pins []uint8, pull drivers.Pull, activeLow bool) []Binding {
	bindings := make([]Binding, 0, len(pins))
	for i, pin := range pins {
		bindings = append(bindings, Binding{
			Name:      "LED" + strconv.Itoa(i),
			Signal:    Signal(i),
			Port:      port,
			Pin:       pin,
			Direction: Output,
			Pull:      pull,
			ActiveLow: activeLow,
		})
	}
	return bindings
}

// MbedLPC1768: LED1..LED4 of the Mbed module on P1.18, P1.20, P1.21, P1.23.
func MbedLPC1768() Board {
	return Board{
		Name:       "mbed-lpc1768",
		DriverName: "mock_driver",
		Bindings:   ledBindings(1, []uint8{18, 20, 21, 23}, drivers.PullDown, false),
	}
}

// RaspberryPiDemo: four LEDs on BCM 17, 27, 22, 23 and a push button to
// ground on BCM 24.
func RaspberryPiDemo() Board {
	bindings := ledBindings(0, []uint8{17, 27, 22, 23}, drivers.PullNoChange, false)
	bindings = append(bindings, Binding{
		Name:      "BUTTON0",
		Signal:    0,
		Port:      0,
		Pin:       24,
		Direction: Input,
		Pull:      drivers.PullUp,
		ActiveLow: true,
	})
	return Board{
		Name:       "rpi-demo",
		DriverName: "gpio",
		Bindings:   bindings,
	}
}

// Mcp23017Demo: LEDs sinking into bank A 0..3, a button to ground on bank B 0.
func Mcp23017Demo() Board {
	bindings := ledBindings(0, []uint8{0, 1, 2, 3}, drivers.PullNoChange, true)
	bindings = append(bindings, Binding{
		Name:      "BUTTON0",
		Signal:    0,
		Port:      1,
		Pin:       0,
		Direction: Input,
		Pull:      drivers.PullUp,
		ActiveLow: true,
	})
	return Board{
		Name:       "mcp23017-demo",
		DriverName: "mcpio",
		Bindings:   bindings,
	}
}

func AllBoards() map[string]Board {
	boards := []Board{
		MbedLPC1768(),
		RaspberryPiDemo(),
		Mcp23017Demo(),
	}

	mapped := make(map[string]Board)
	for _, b := range boards {
		mapped[b.Name] = b
	}
	return mapped
}

func BoardByName(name string) (Board, error) {
	for boardName, board := range AllBoards() {
		if strings.EqualFold(boardName, name) {
			return board, nil
		}
	}
	return Board{}, errors.Wrapf(ErrUnknownBoard, "%q (known: %s)", name, strings.Join(BoardNames(), ", "))
}

func BoardNames() (names []string) {
	for name := range AllBoards() {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}
