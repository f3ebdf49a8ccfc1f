package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/swvio"
	"github.com/hubertat/swvio/drivers"
	"github.com/hubertat/swvio/vio"
)

var (
	Version string
	Build   string
)

func newMockApp() *swvio.SwVio {
	return &swvio.SwVio{
		Name:        "swvio mock",
		Board:       "mbed-lpc1768",
		BlinkPeriod: vio.Duration(vio.DefaultBlinkPeriod),
		HttpAddr:    "localhost:8088",
		HkPin:       "88008800",
		HkDirectory: "./mock_homekit",
		FakeDriver:  &drivers.MockIoDriver{},
	}
}

// run closes sv on every path, including failed initialization.
func run(ctx context.Context, sv *swvio.SwVio) error {
	defer sv.Close()

	log.Info("will init swvio driver...")
	err := sv.InitDriver(ctx)
	if err != nil {
		return errors.Wrap(err, "driver init failed")
	}

	log.Info("will init swvio registry...")
	err = sv.InitRegistry()
	if err != nil {
		return errors.Wrap(err, "registry init failed")
	}

	sv.FakeDriver.MonitorStateChanges(os.Stdout)
	sv.PrintIoStatus(os.Stdout)

	log.Info("starting mock with HomeKit service")
	return sv.Run(ctx, "mock: "+Version)
}

func main() {
	log.Info("swvio started")
	log.Info("mock instance for testing purposes, should work on MacOs")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sv := newMockApp()
	log.Info("blink period", "period", time.Duration(sv.BlinkPeriod))

	err := run(ctx, sv)
	if err != nil {
		log.Error("swvio mock stopped", "err", err)
		return
	}
	log.Info("swvio mock finished")
}
