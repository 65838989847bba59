// Package restore resumes the runtime state recorded in a snapshot by
// starting the containers that were running when it was captured.
package restore

import (
	"context"
	"time"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Status is the outcome of one container.
type Status string

const (
	Started           Status = "started"
	SkippedNotRunning Status = "skipped"
	Failed            Status = "failed"
	WouldStart        Status = "would-start"
)

// Outcome reports what happened to one recorded container. Err is set only
// for Failed and matches errdefs.ErrNotFound when the id no longer exists.
type Outcome struct {
	ID     string
	Name   string
	Status Status
	Err    error
}

// NotFound reports whether the container was missing from the runtime.
func (o Outcome) NotFound() bool {
	return o.Status == Failed && errors.Is(o.Err, errdefs.ErrNotFound)
}

// Report lists outcomes in document order.
type Report struct {
	Outcomes []Outcome
	Started  int
	Skipped  int
	Failed   int
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case Started, WouldStart:
		r.Started++
	case SkippedNotRunning:
		r.Skipped++
	case Failed:
		r.Failed++
	}
}

// Engine issues start calls through a Starter.
type Engine struct {
	starter vessel.Starter
	timeout time.Duration
	dryRun  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout bounds each start call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithDryRun reports WouldStart instead of starting anything.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) {
		e.dryRun = dryRun
	}
}

// New returns an Engine starting containers through s.
func New(s vessel.Starter, opts ...Option) *Engine {
	e := &Engine{starter: s, timeout: utils.CallTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore walks containers in order and starts those recorded as running.
// A failure is recorded against its container and never stops the batch.
func (e *Engine) Restore(ctx context.Context, containers []state.Container) Report {
	var report Report
	for _, c := range containers {
		o := Outcome{ID: c.ID, Name: c.Name}
		switch {
		case !c.Running():
			o.Status = SkippedNotRunning
			logrus.Debugf("skipping %s (%s): recorded state %q", c.Name, c.ID, c.State)
		case e.dryRun:
			o.Status = WouldStart
		default:
			if err := e.start(ctx, c.ID); err != nil {
				o.Status = Failed
				o.Err = err
				logrus.Warnf("failed to start %s (%s): %v", c.Name, c.ID, err)
			} else {
				o.Status = Started
				logrus.Infof("started %s (%s)", c.Name, c.ID)
			}
		}
		report.add(o)
	}
	return report
}

func (e *Engine) start(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.starter.StartContainer(ctx, id)
}
