package vio

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Scheduler is the timer and task service the periodic parts of the system
// are driven by.
type Scheduler interface {
	// Every calls fn once per period until ctx is done.
	Every(ctx context.Context, name string, period time.Duration, fn func()) error
	// Go runs fn as a named background task.
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// TickerScheduler runs periodic callbacks off time.Ticker and tasks on
// goroutines.
type TickerScheduler struct {
	logger *log.Logger
	wg     sync.WaitGroup
}

func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "scheduler",
			Level:  log.GetLevel(),
		}),
	}
}

func (ts *TickerScheduler) Every(ctx context.Context, name string, period time.Duration, fn func()) error {
	if period <= 0 {
		return errors.Errorf("task %s: period must be positive, got %s", name, period)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	ts.logger.Debug("periodic task started", "task", name, "period", period)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

func (ts *TickerScheduler) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()

		err := fn(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			ts.logger.Error("task stopped", "task", name, "err", err)
			return
		}
		ts.logger.Debug("task finished", "task", name)
	}()
}

// Wait blocks until every task started with Go has returned.
func (ts *TickerScheduler) Wait() {
	ts.wg.Wait()
}
