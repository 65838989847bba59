package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/internal/fakeruntime"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/store"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type harness struct {
	t        *testing.T
	dir      string
	rt       *fakeruntime.Runtime
	connects int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"VESSEL_SNAPSHOT_DIR", "VESSEL_RUNTIME", "VESSEL_ENDPOINT", "CONTAINER_RUNTIME", "CRI_ENDPOINT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	chdir(t, t.TempDir())
	return &harness{
		t:   t,
		dir: t.TempDir(),
		rt: &fakeruntime.Runtime{
			Containers: []state.Container{
				{ID: "c1", Name: "web", State: "running"},
				{ID: "c2", Name: "cron", State: "exited"},
			},
			Volumes: []state.Volume{{Name: "data", Driver: "local"}},
		},
	}
}

func (h *harness) run(args ...string) (string, error) {
	var out bytes.Buffer
	a := newApp(&out)
	a.newRuntime = func(vessel.Options) (vessel.Runtime, error) {
		h.connects++
		return h.rt, nil
	}
	a.detect = func() (string, string, error) {
		return "containerd", "unix:///run/containerd/containerd.sock", nil
	}
	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--snapshot-dir", h.dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) onlySnapshot() string {
	summaries, err := store.New(h.dir).List()
	require.NoError(h.t, err)
	require.Len(h.t, summaries, 1)
	return summaries[0].Name
}

func TestSaveListShowRestoreDelete(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("save", "before-upgrade")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved 2 containers, 1 volumes, 0 networks")
	name := h.onlySnapshot()
	assert.Contains(t, out, name)
	assert.Contains(t, name, "_before-upgrade")

	out, err = h.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, name)
	assert.Contains(t, out, "CONTAINERS")

	out, err = h.run("show", name)
	require.NoError(t, err)
	var doc state.State
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Containers, 2)

	out, err = h.run("show", name, "-o", "yaml")
	require.NoError(t, err)
	var asYAML map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &asYAML))
	assert.Contains(t, asYAML, "capturedAt")
	assert.Len(t, asYAML["containers"], 2)

	out, err = h.run("restore", name)
	require.NoError(t, err)
	assert.Contains(t, out, "Started web")
	assert.Contains(t, out, "Skipped cron")
	assert.Contains(t, out, "1 started, 1 skipped, 0 failed")
	assert.Equal(t, []string{"c1"}, h.rt.Started())

	out, err = h.run("delete", name)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted snapshot: "+name)

	_, err = h.run("delete", name)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestListEmpty(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots found")
	assert.Zero(t, h.connects)
}

func TestRestoreUnknownSnapshotSkipsRuntime(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("restore", "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Zero(t, h.connects)
}

func TestRestoreReportsMissingContainer(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("save")
	require.NoError(t, err)
	h.rt.Gone = map[string]bool{"c1": true}

	out, err := h.run("restore", h.onlySnapshot())
	require.NoError(t, err)
	assert.Contains(t, out, "no longer exists")
	assert.Contains(t, out, "0 started, 1 skipped, 1 failed")
}

func TestRestoreDryRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("save")
	require.NoError(t, err)
	connects := h.connects

	out, err := h.run("restore", "--dry-run", h.onlySnapshot())
	require.NoError(t, err)
	assert.Contains(t, out, "Would start web")
	assert.Equal(t, connects, h.connects)
	assert.Empty(t, h.rt.Started())
}

func TestSaveRuntimeUnavailable(t *testing.T) {
	h := newHarness(t)
	h.rt.PingErr = errors.New("connection refused")
	_, err := h.run("save")
	assert.ErrorIs(t, err, errdefs.ErrRuntimeUnavailable)
}

func TestShowUnknownFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("save")
	require.NoError(t, err)
	_, err = h.run("show", h.onlySnapshot(), "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestDetectWritesDotEnv(t *testing.T) {
	h := newHarness(t)
	t.Cleanup(func() {
		os.Unsetenv("CONTAINER_RUNTIME")
		os.Unsetenv("CRI_ENDPOINT")
	})
	require.NoError(t, os.WriteFile(".env", []byte("OTHER=keep\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("OTHER") })

	out, err := h.run("detect")
	require.NoError(t, err)
	assert.Contains(t, out, "containerd")

	env, err := godotenv.Read(".env")
	require.NoError(t, err)
	assert.Equal(t, "containerd", env["CONTAINER_RUNTIME"])
	assert.Equal(t, "unix:///run/containerd/containerd.sock", env["CRI_ENDPOINT"])
	assert.Equal(t, "keep", env["OTHER"])
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
