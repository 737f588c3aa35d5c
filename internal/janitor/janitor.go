// Package janitor runs background reclamation against a bus, keeping
// retained payload bytes under a configured watermark.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/typebus/config"
	"github.com/coachpo/typebus/errs"
	"github.com/coachpo/typebus/internal/bus"
	"github.com/coachpo/typebus/internal/observability"
)

// Target is the reclamation surface the janitor drives. *eventbus.Bus
// satisfies it.
type Target interface {
	Load() bus.Load
	DynamicFree(maxBytes uint64)
}

// Janitor periodically inspects the target's load and applies DynamicFree
// when retained bytes exceed the high watermark. Attempts that leave the
// target above the watermark are retried with exponential backoff.
type Janitor struct {
	target Target
	cfg    config.JanitorSettings
	log    observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New validates the configuration and constructs a stopped janitor.
func New(target Target, cfg config.JanitorSettings, log observability.Logger) (*Janitor, error) {
	if target == nil {
		return nil, errs.New("janitor/new", errs.CodeInvalid, errs.WithMessage("target must not be nil"))
	}
	if cfg.Interval <= 0 {
		return nil, errs.New("janitor/new", errs.CodeInvalid, errs.WithMessage("interval must be positive"))
	}
	if cfg.BudgetBytes == 0 {
		return nil, errs.New("janitor/new", errs.CodeInvalid, errs.WithMessage("budget must be positive"))
	}
	if log == nil {
		log = observability.Log()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		target:    target,
		cfg:       cfg,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startOnce: sync.Once{},
		stopOnce:  sync.Once{},
	}, nil
}

// Start launches the sweep loop. Subsequent calls are no-ops.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		go j.run()
	})
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		j.cancel()
		j.Start() // ensure done closes even when Start was never called
		<-j.done
	})
}

func (j *Janitor) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	ld := j.target.Load()
	if ld.DataSize <= j.cfg.HighWatermarkBytes {
		return
	}

	tries := j.cfg.MaxAttempts
	if tries == 0 {
		tries = 1
	}
	after, err := backoff.Retry(j.ctx, func() (bus.Load, error) {
		j.target.DynamicFree(j.cfg.BudgetBytes)
		now := j.target.Load()
		if now.DataSize > j.cfg.HighWatermarkBytes {
			// Concurrent publishes can outpace a single trim; retry with
			// backoff up to the configured bound.
			return now, errs.New("janitor/sweep", errs.CodeUnavailable,
				errs.WithMessage("retained data still above watermark"))
		}
		return now, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(tries))
	if err != nil {
		j.log.Error("reclamation incomplete",
			observability.F("data_size", j.target.Load().DataSize),
			observability.F("watermark", j.cfg.HighWatermarkBytes))
		return
	}
	j.log.Debug("reclamation applied",
		observability.F("data_size", after.DataSize),
		observability.F("event_count", after.EventCount))
}
