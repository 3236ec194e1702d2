// Package poll runs fixed-cadence background loops that never exit on their
// own: a failed or panicking cycle is logged and followed by a longer pause.
package poll

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Loop struct {
	Name    string
	Period  time.Duration
	Backoff time.Duration
	Sleep   SleepFunc
	Log     *zap.Logger

	// OnError, if set, is called with every failed cycle's error.
	OnError func(error)
}

// Run calls fn every Period until ctx is cancelled. A cycle that returns an
// error or panics is followed by Backoff instead of Period.
func (l Loop) Run(ctx context.Context, fn func(context.Context) error) error {
	sleep := l.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("loop", l.Name))

	log.Info("loop started", zap.Duration("period", l.Period), zap.Duration("backoff", l.Backoff))
	defer log.Info("loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := l.Period
		if err := l.Once(ctx, fn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("cycle failed", zap.Error(err), zap.Duration("backoff", l.Backoff))
			if l.OnError != nil {
				l.OnError(err)
			}
			wait = l.Backoff
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Once runs a single cycle, converting a panic into an error.
func (l Loop) Once(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v\n%s", l.Name, r, debug.Stack())
		}
	}()
	return fn(ctx)
}
