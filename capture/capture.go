// Package capture assembles a State Document from a live container runtime.
//
// The runtime must answer a ping. Everything after that degrades: a failed
// detail query leaves an empty value in that one field, and a failed
// container, volume or network list leaves an empty list. Each degradation
// is reported as a Warning.
package capture

import (
	"context"
	"fmt"
	"time"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// Workers bounds the number of containers whose details are fetched at once.
	Workers int
	// CallTimeout bounds every single runtime call.
	CallTimeout time.Duration
	// Now stamps capturedAt; tests pin it.
	Now func() time.Time
}

// Warning records one degraded query. It matches errdefs.ErrPartialCapture
// and the underlying cause under errors.Is.
type Warning struct {
	ContainerID string
	Field       string
	Err         error
}

func (w Warning) Error() string {
	if w.ContainerID == "" {
		return fmt.Sprintf("%s: %v", w.Field, w.Err)
	}
	return fmt.Sprintf("container %s %s: %v", w.ContainerID, w.Field, w.Err)
}

func (w Warning) Unwrap() []error {
	return []error{errdefs.ErrPartialCapture, w.Err}
}

// Result is a captured document together with the degradations that shaped it.
type Result struct {
	State    state.State
	Warnings []Warning
}

// Engine captures runtime state through a Querier.
type Engine struct {
	q    vessel.Querier
	opts Options
}

// New returns an Engine reading from q.
func New(q vessel.Querier, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = utils.CallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{q: q, opts: opts}
}

// Capture probes the runtime, then collects containers with their details,
// volumes and networks. Container order follows the runtime's listing.
func (e *Engine) Capture(ctx context.Context) (*Result, error) {
	if err := call0(ctx, e.opts.CallTimeout, e.q.Ping); err != nil {
		return nil, errors.Wrapf(errdefs.ErrRuntimeUnavailable, "%s: %v", e.q.Name(), err)
	}

	var warnings []Warning
	containers, err := call(ctx, e.opts.CallTimeout, e.q.ListContainers)
	if err != nil {
		warnings = append(warnings, e.warn("", "containers", err))
		containers = nil
	}
	if containers == nil {
		containers = []state.Container{}
	}
	logrus.Debugf("capturing details of %d containers with %d workers", len(containers), e.opts.Workers)

	perContainer := make([][]Warning, len(containers))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i := range containers {
		i := i
		g.Go(func() error {
			perContainer[i] = e.fillDetails(ctx, &containers[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, w := range perContainer {
		warnings = append(warnings, w...)
	}

	volumes, err := call(ctx, e.opts.CallTimeout, e.q.ListVolumes)
	if err != nil {
		warnings = append(warnings, e.warn("", "volumes", err))
	}
	if volumes == nil {
		volumes = []state.Volume{}
	}
	networks, err := call(ctx, e.opts.CallTimeout, e.q.ListNetworks)
	if err != nil {
		warnings = append(warnings, e.warn("", "networks", err))
	}
	if networks == nil {
		networks = []state.Network{}
	}

	return &Result{
		State: state.State{
			CapturedAt: e.opts.Now().UTC().Round(0),
			Containers: containers,
			Volumes:    volumes,
			Networks:   networks,
		},
		Warnings: warnings,
	}, nil
}

// fillDetails queries every detail field of c. Each failure is absorbed into
// an empty value for that field alone.
func (e *Engine) fillDetails(ctx context.Context, c *state.Container) []Warning {
	var warnings []Warning
	d := state.EmptyDetails()
	timeout := e.opts.CallTimeout

	if env, err := callID(ctx, timeout, c.ID, e.q.ContainerEnv); err != nil {
		warnings = append(warnings, e.warn(c.ID, "env", err))
	} else if env != nil {
		d.Env = env
	}
	if mounts, err := callID(ctx, timeout, c.ID, e.q.ContainerMounts); err != nil {
		warnings = append(warnings, e.warn(c.ID, "volumes", err))
	} else if mounts != nil {
		d.Volumes = mounts
	}
	if networks, err := callID(ctx, timeout, c.ID, e.q.ContainerNetworks); err != nil {
		warnings = append(warnings, e.warn(c.ID, "networks", err))
	} else if networks != nil {
		d.Networks = networks
	}
	if ports, err := callID(ctx, timeout, c.ID, e.q.ContainerPorts); err != nil {
		warnings = append(warnings, e.warn(c.ID, "ports", err))
	} else if ports != nil {
		d.Ports = ports
	}
	if labels, err := callID(ctx, timeout, c.ID, e.q.ContainerLabels); err != nil {
		warnings = append(warnings, e.warn(c.ID, "labels", err))
	} else if labels != nil {
		d.Labels = labels
	}

	if c.Ports == nil {
		c.Ports = []string{}
	}
	c.Details = d
	return warnings
}

func (e *Engine) warn(id, field string, err error) Warning {
	w := Warning{ContainerID: id, Field: field, Err: err}
	logrus.Warn(w.Error())
	return w
}

func call0(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func callID[T any](ctx context.Context, timeout time.Duration, id string, fn func(context.Context, string) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx, id)
}
