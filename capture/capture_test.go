package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/internal/fakeruntime"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("CEST", 2*3600))

func newFake() *fakeruntime.Runtime {
	return &fakeruntime.Runtime{
		Containers: []state.Container{
			{ID: "a1", Name: "web", Image: "nginx", State: "running", Status: "Up 1 hour", Ports: []string{"0.0.0.0:80->80/tcp"}},
			{ID: "b2", Name: "job", Image: "busybox", State: "exited", Status: "Exited (0)"},
		},
		Volumes: []state.Volume{{Name: "data", Driver: "local", Mountpoint: "/var/lib/docker/volumes/data/_data"}},
		Details: map[string]state.Details{
			"a1": {
				Env:      []string{"PATH=/bin", "MODE=prod"},
				Volumes:  []state.Mount{{Source: "data", Destination: "/data", Mode: "rw", Type: "volume"}},
				Networks: []state.NetworkAttachment{{Name: "bridge", IPAddress: "172.17.0.2"}},
				Ports:    []state.PortBinding{{ContainerPort: "80/tcp", HostPorts: []string{"80"}}},
				Labels:   map[string]string{"tier": "front"},
			},
		},
	}
}

func newEngine(q *fakeruntime.Runtime, workers int) *Engine {
	return New(q, Options{Workers: workers, CallTimeout: time.Second, Now: func() time.Time { return fixedNow }})
}

func TestCapture(t *testing.T) {
	fake := newFake()
	res, err := newEngine(fake, 2).Capture(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	s := res.State
	assert.Equal(t, fixedNow.UTC(), s.CapturedAt)
	assert.Equal(t, time.UTC, s.CapturedAt.Location())
	require.Len(t, s.Containers, 2)
	assert.Len(t, s.Volumes, 1)
	assert.NotNil(t, s.Networks)
	assert.Empty(t, s.Networks)

	web := s.Containers[0]
	assert.Equal(t, "a1", web.ID)
	assert.Equal(t, fake.Details["a1"], web.Details)

	job := s.Containers[1]
	assert.Equal(t, "b2", job.ID)
	assert.Equal(t, state.EmptyDetails(), job.Details)
	assert.NotNil(t, job.Ports)
}

func TestCaptureEnvFailureDegrades(t *testing.T) {
	fake := newFake()
	cause := errors.New("inspect exploded")
	fake.FieldErrs = map[string]error{fakeruntime.Key("a1", "env"): cause}

	res, err := newEngine(fake, 1).Capture(context.Background())
	require.NoError(t, err)

	web := res.State.Containers[0]
	assert.Equal(t, []string{}, web.Details.Env)
	assert.Equal(t, fake.Details["a1"].Volumes, web.Details.Volumes)
	assert.Equal(t, fake.Details["a1"].Networks, web.Details.Networks)
	assert.Equal(t, fake.Details["a1"].Ports, web.Details.Ports)
	assert.Equal(t, fake.Details["a1"].Labels, web.Details.Labels)
	assert.Equal(t, "nginx", web.Image)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, "a1", w.ContainerID)
	assert.Equal(t, "env", w.Field)
	assert.ErrorIs(t, w, errdefs.ErrPartialCapture)
	assert.ErrorIs(t, w, cause)
	assert.Contains(t, w.Error(), "container a1 env")
}

func TestCaptureRuntimeUnavailable(t *testing.T) {
	fake := newFake()
	fake.PingErr = errors.New("connection refused")

	res, err := newEngine(fake, 1).Capture(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errdefs.ErrRuntimeUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCaptureContainerListFailureDegrades(t *testing.T) {
	fake := newFake()
	cause := errors.New("boom")
	fake.ListErr = cause

	res, err := newEngine(fake, 1).Capture(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.State.Containers)
	assert.Empty(t, res.State.Containers)
	assert.Len(t, res.State.Volumes, 1)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, "containers", w.Field)
	assert.Empty(t, w.ContainerID)
	assert.ErrorIs(t, w, errdefs.ErrPartialCapture)
	assert.ErrorIs(t, w, cause)
}

func TestCaptureAuxiliaryListsDegrade(t *testing.T) {
	fake := newFake()
	fake.VolumesErr = errors.New("volumes down")
	fake.NetworksErr = errors.New("networks down")

	res, err := newEngine(fake, 1).Capture(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.State.Volumes)
	assert.Empty(t, res.State.Volumes)
	assert.NotNil(t, res.State.Networks)
	assert.Empty(t, res.State.Networks)

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "volumes", res.Warnings[0].Field)
	assert.Equal(t, "networks", res.Warnings[1].Field)
	assert.Empty(t, res.Warnings[0].ContainerID)
	assert.ErrorIs(t, res.Warnings[1], errdefs.ErrPartialCapture)
}

func TestCapturePreservesOrderUnderConcurrency(t *testing.T) {
	fake := &fakeruntime.Runtime{Delay: map[string]time.Duration{}}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("c%02d", i)
		fake.Containers = append(fake.Containers, state.Container{ID: id})
		// Earlier containers finish last.
		fake.Delay[id] = time.Duration(12-i) * time.Millisecond
	}

	res, err := newEngine(fake, 4).Capture(context.Background())
	require.NoError(t, err)
	require.Len(t, res.State.Containers, 12)
	for i, c := range res.State.Containers {
		assert.Equal(t, fmt.Sprintf("c%02d", i), c.ID)
	}
	assert.LessOrEqual(t, fake.MaxInFlight(), 4)
	assert.Greater(t, fake.MaxInFlight(), 1)
}

func TestCaptureTimeoutDegradesOnlyThatContainer(t *testing.T) {
	fake := newFake()
	fake.Delay = map[string]time.Duration{"b2": time.Hour}

	engine := New(fake, Options{Workers: 2, CallTimeout: 20 * time.Millisecond, Now: func() time.Time { return fixedNow }})
	res, err := engine.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fake.Details["a1"], res.State.Containers[0].Details)
	assert.Equal(t, state.EmptyDetails(), res.State.Containers[1].Details)
	require.Len(t, res.Warnings, 5)
	for _, w := range res.Warnings {
		assert.Equal(t, "b2", w.ContainerID)
		assert.ErrorIs(t, w, context.DeadlineExceeded)
	}
}

func TestNewDefaults(t *testing.T) {
	e := New(newFake(), Options{})
	assert.Equal(t, DefaultWorkers, e.opts.Workers)
	assert.Equal(t, 30*time.Second, e.opts.CallTimeout)
	assert.NotNil(t, e.opts.Now)
}
