// Package fakeruntime is an in-memory vessel.Runtime for tests.
package fakeruntime

import (
	"context"
	"sync"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/pkg/errors"
)

// Runtime serves canned answers. Set fields before use; it is safe for
// concurrent calls afterwards.
type Runtime struct {
	Containers []state.Container
	Volumes    []state.Volume
	Networks   []state.Network
	Details    map[string]state.Details

	PingErr     error
	ListErr     error
	VolumesErr  error
	NetworksErr error
	// FieldErrs fails one detail query, keyed by Key(id, field).
	FieldErrs map[string]error
	// Delay holds detail queries of a container for the given duration or
	// until the call's context ends.
	Delay map[string]time.Duration
	// Gone lists ids that StartContainer reports as missing.
	Gone     map[string]bool
	StartErr map[string]error

	mu          sync.Mutex
	started     []string
	inFlight    int
	maxInFlight int
}

// Key builds a FieldErrs key.
func Key(id, field string) string {
	return id + "/" + field
}

func (r *Runtime) Name() string      { return "fake" }
func (r *Runtime) GetSocket() string { return "unix:///fake.sock" }
func (r *Runtime) Close() error      { return nil }

func (r *Runtime) Ping(ctx context.Context) error {
	return r.PingErr
}

func (r *Runtime) ListContainers(ctx context.Context) ([]state.Container, error) {
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	out := make([]state.Container, len(r.Containers))
	copy(out, r.Containers)
	return out, nil
}

func (r *Runtime) ListVolumes(ctx context.Context) ([]state.Volume, error) {
	if r.VolumesErr != nil {
		return nil, r.VolumesErr
	}
	return append([]state.Volume{}, r.Volumes...), nil
}

func (r *Runtime) ListNetworks(ctx context.Context) ([]state.Network, error) {
	if r.NetworksErr != nil {
		return nil, r.NetworksErr
	}
	return append([]state.Network{}, r.Networks...), nil
}

func (r *Runtime) detail(ctx context.Context, id, field string) (state.Details, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if d := r.Delay[id]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return state.Details{}, ctx.Err()
		}
	}
	if err := r.FieldErrs[Key(id, field)]; err != nil {
		return state.Details{}, err
	}
	d, ok := r.Details[id]
	if !ok {
		return state.EmptyDetails(), nil
	}
	return d, nil
}

func (r *Runtime) ContainerEnv(ctx context.Context, id string) ([]string, error) {
	d, err := r.detail(ctx, id, "env")
	return d.Env, err
}

func (r *Runtime) ContainerMounts(ctx context.Context, id string) ([]state.Mount, error) {
	d, err := r.detail(ctx, id, "volumes")
	return d.Volumes, err
}

func (r *Runtime) ContainerNetworks(ctx context.Context, id string) ([]state.NetworkAttachment, error) {
	d, err := r.detail(ctx, id, "networks")
	return d.Networks, err
}

func (r *Runtime) ContainerPorts(ctx context.Context, id string) ([]state.PortBinding, error) {
	d, err := r.detail(ctx, id, "ports")
	return d.Ports, err
}

func (r *Runtime) ContainerLabels(ctx context.Context, id string) (map[string]string, error) {
	d, err := r.detail(ctx, id, "labels")
	return d.Labels, err
}

func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	if r.Gone[id] {
		return errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
	}
	if err := r.StartErr[id]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
	return nil
}

// Started returns the ids passed to StartContainer, in call order.
func (r *Runtime) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

// MaxInFlight returns the peak number of concurrent detail queries.
func (r *Runtime) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}
