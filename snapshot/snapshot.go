// Package snapshot wires a runtime and a snapshot store to the capture and
// restore engines. It is what the CLI verbs call.
package snapshot

import (
	"context"
	"time"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/capture"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/restore"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the manager needs. *store.Store implements it.
type Store interface {
	NameFor(label string, at time.Time) string
	Save(name string, st state.State) (string, error)
	Load(name string) (state.State, error)
	List() ([]store.Summary, error)
	Delete(name string) error
}

// Options carries the engine settings.
type Options struct {
	Workers     int
	CallTimeout time.Duration
	Now         func() time.Time
}

// Manager runs the save, restore, list and delete workflows.
type Manager struct {
	store Store
	rt    vessel.Runtime
	opts  Options
}

// New returns a Manager. rt may be nil for workflows that never touch the
// runtime (list, delete, show).
func New(s Store, rt vessel.Runtime, opts Options) *Manager {
	return &Manager{store: s, rt: rt, opts: opts}
}

// Saved describes a snapshot written by Save.
type Saved struct {
	Name     string
	Path     string
	State    state.State
	Warnings []capture.Warning
}

func (m *Manager) runtime() (vessel.Runtime, error) {
	if m.rt == nil {
		return nil, errors.Wrap(errdefs.ErrRuntimeUnavailable, "no container runtime configured")
	}
	return m.rt, nil
}

// Save captures the runtime and stores the result under a timestamped name,
// suffixed with label when one is given.
func (m *Manager) Save(ctx context.Context, label string) (*Saved, error) {
	if label != "" {
		if err := store.ValidateName(label); err != nil {
			return nil, err
		}
	}
	rt, err := m.runtime()
	if err != nil {
		return nil, err
	}
	res, err := capture.New(rt, capture.Options{
		Workers:     m.opts.Workers,
		CallTimeout: m.opts.CallTimeout,
		Now:         m.opts.Now,
	}).Capture(ctx)
	if err != nil {
		return nil, err
	}

	name := m.store.NameFor(label, res.State.CapturedAt)
	path, err := m.store.Save(name, res.State)
	if err != nil {
		return nil, err
	}
	logrus.Infof("saved snapshot %s: %d containers, %d volumes, %d networks, %d warnings",
		name, len(res.State.Containers), len(res.State.Volumes), len(res.State.Networks), len(res.Warnings))
	return &Saved{Name: name, Path: path, State: res.State, Warnings: res.Warnings}, nil
}

// Restore loads the named snapshot and starts the containers it recorded as
// running. Only a snapshot that cannot be loaded is an error; per-container
// failures are in the report.
func (m *Manager) Restore(ctx context.Context, name string, dryRun bool) (restore.Report, error) {
	st, err := m.store.Load(name)
	if err != nil {
		return restore.Report{}, err
	}
	return m.RestoreState(ctx, name, st, dryRun)
}

// RestoreState restores an already loaded document; name is only used for
// logging. The document itself is never modified.
func (m *Manager) RestoreState(ctx context.Context, name string, st state.State, dryRun bool) (restore.Report, error) {
	// A dry run issues no start calls and so needs no runtime.
	var starter vessel.Starter
	if !dryRun {
		rt, err := m.runtime()
		if err != nil {
			return restore.Report{}, err
		}
		starter = rt
	}
	doc := st.Clone()
	report := restore.New(starter,
		restore.WithCallTimeout(m.opts.CallTimeout),
		restore.WithDryRun(dryRun),
	).Restore(ctx, doc.Containers)
	logrus.Infof("restored snapshot %s: %d started, %d skipped, %d failed",
		name, report.Started, report.Skipped, report.Failed)
	return report, nil
}

// Load returns the named snapshot document.
func (m *Manager) Load(name string) (state.State, error) {
	return m.store.Load(name)
}

// List returns snapshot summaries, most recent first.
func (m *Manager) List() ([]store.Summary, error) {
	return m.store.List()
}

// Delete removes the named snapshot.
func (m *Manager) Delete(name string) error {
	return m.store.Delete(name)
}
