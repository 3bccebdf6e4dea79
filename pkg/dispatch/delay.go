package dispatch

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ignatij/seqflow/pkg/models"
)

// MaxDelayMinutes is the longest delay a time.Duration can hold.
const MaxDelayMinutes = float64(math.MaxInt64 / int64(time.Minute))

// DelayDispatcher waits for the configured duration, but only when the
// request may block. Interactive runs record the delay and move on so the
// caller gets its answer promptly.
type DelayDispatcher struct {
	// Sleep waits for d or until ctx is done. Defaults to a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d *DelayDispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.DelayConfig](req)
	if err != nil {
		return "", err
	}
	if cfg.Minutes < 0 {
		return "", configError("minutes", "Delay duration cannot be negative")
	}
	if cfg.Minutes > MaxDelayMinutes {
		return "", configError("minutes", fmt.Sprintf("Delay duration cannot exceed %.0f minutes", MaxDelayMinutes))
	}
	minutes := strconv.FormatFloat(cfg.Minutes, 'f', -1, 64)
	if !req.MayBlock {
		return fmt.Sprintf("Delay of %s minutes recorded (not waited in interactive run)", minutes), nil
	}

	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	wait := time.Duration(cfg.Minutes * float64(time.Minute))
	if err := sleep(ctx, wait); err != nil {
		return "", &DispatchError{Action: "delay", Err: err}
	}
	return fmt.Sprintf("Waited %s minutes", minutes), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
