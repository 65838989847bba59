package docker

import (
	"context"
	"errors"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/docker/docker/api/types"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	networkTypes "github.com/docker/docker/api/types/network"
	volumeTypes "github.com/docker/docker/api/types/volume"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	containers []containerTypes.Summary
	inspect    map[string]containerTypes.InspectResponse
	volumes    volumeTypes.ListResponse
	networks   []networkTypes.Summary
	started    []string
	pingErr    error
}

func (f *fakeAPI) Ping(context.Context) (types.Ping, error) { return types.Ping{}, f.pingErr }

func (f *fakeAPI) ContainerList(_ context.Context, opts containerTypes.ListOptions) ([]containerTypes.Summary, error) {
	if !opts.All {
		return nil, errors.New("expected All")
	}
	return f.containers, nil
}

func (f *fakeAPI) ContainerInspect(_ context.Context, id string) (containerTypes.InspectResponse, error) {
	resp, ok := f.inspect[id]
	if !ok {
		return containerTypes.InspectResponse{}, cerrdefs.ErrNotFound.WithMessage("No such container: " + id)
	}
	return resp, nil
}

func (f *fakeAPI) ContainerStart(_ context.Context, id string, _ containerTypes.StartOptions) error {
	if _, ok := f.inspect[id]; !ok {
		return cerrdefs.ErrNotFound.WithMessage("No such container: " + id)
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeAPI) VolumeList(context.Context, volumeTypes.ListOptions) (volumeTypes.ListResponse, error) {
	return f.volumes, nil
}

func (f *fakeAPI) NetworkList(context.Context, networkTypes.ListOptions) ([]networkTypes.Summary, error) {
	return f.networks, nil
}

func (f *fakeAPI) Close() error { return nil }

func newFake() *fakeAPI {
	return &fakeAPI{
		containers: []containerTypes.Summary{
			{
				ID:      "abc",
				Names:   []string{"/web"},
				Image:   "nginx",
				Command: "nginx -g 'daemon off;'",
				Created: 1700000000,
				State:   "running",
				Status:  "Up 2 minutes",
				Ports: []containerTypes.Port{
					{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"},
					{PrivatePort: 443, Type: "tcp"},
				},
			},
		},
		inspect: map[string]containerTypes.InspectResponse{
			"abc": {
				Config: &containerTypes.Config{
					Env:    []string{"A=1", "broken", "B=2"},
					Labels: map[string]string{"tier": "web"},
				},
				Mounts: []containerTypes.MountPoint{
					{Type: mount.TypeBind, Source: "/srv", Destination: "/data", Mode: "rw"},
				},
				NetworkSettings: &containerTypes.NetworkSettings{
					NetworkSettingsBase: containerTypes.NetworkSettingsBase{
						Ports: nat.PortMap{
							"80/tcp":  []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "8080"}},
							"443/tcp": nil,
						},
					},
					Networks: map[string]*networkTypes.EndpointSettings{
						"frontend": {IPAddress: "10.0.0.2", Gateway: "10.0.0.1", MacAddress: "aa"},
						"bridge":   {IPAddress: "172.17.0.2"},
					},
				},
			},
		},
		volumes: volumeTypes.ListResponse{Volumes: []*volumeTypes.Volume{
			{Name: "data", Driver: "local", Mountpoint: "/var/lib/docker/volumes/data/_data"},
			nil,
		}},
		networks: []networkTypes.Summary{{ID: "n1", Name: "bridge", Driver: "bridge", Scope: "local"}},
	}
}

func TestListContainers(t *testing.T) {
	d := &Docker{cli: newFake()}
	containers, err := d.ListContainers(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 1)

	c := containers[0]
	assert.Equal(t, "abc", c.ID)
	assert.Equal(t, "web", c.Name)
	assert.Equal(t, "running", c.State)
	assert.Equal(t, "2023-11-14T22:13:20Z", c.Created)
	assert.Equal(t, []string{"0.0.0.0:8080->80/tcp", "443/tcp"}, c.Ports)
}

func TestDetails(t *testing.T) {
	d := &Docker{cli: newFake()}
	ctx := context.Background()

	env, err := d.ContainerEnv(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=2"}, env)

	mounts, err := d.ContainerMounts(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, "bind", mounts[0].Type)
	assert.Equal(t, "/data", mounts[0].Destination)

	networks, err := d.ContainerNetworks(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, "bridge", networks[0].Name)
	assert.Equal(t, "frontend", networks[1].Name)
	assert.Equal(t, "10.0.0.1", networks[1].Gateway)

	ports, err := d.ContainerPorts(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "443/tcp", ports[0].ContainerPort)
	assert.Empty(t, ports[0].HostPorts)
	assert.Equal(t, []string{"8080"}, ports[1].HostPorts)

	labels, err := d.ContainerLabels(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tier": "web"}, labels)

	_, err = d.ContainerEnv(ctx, "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestVolumesAndNetworks(t *testing.T) {
	d := &Docker{cli: newFake()}

	volumes, err := d.ListVolumes(context.Background())
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "data", volumes[0].Name)

	networks, err := d.ListNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, "local", networks[0].Scope)
}

func TestStartContainer(t *testing.T) {
	fake := newFake()
	d := &Docker{cli: fake}

	require.NoError(t, d.StartContainer(context.Background(), "abc"))
	assert.Equal(t, []string{"abc"}, fake.started)

	err := d.StartContainer(context.Background(), "gone")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestPing(t *testing.T) {
	fake := newFake()
	d := &Docker{cli: fake}
	assert.NoError(t, d.Ping(context.Background()))

	fake.pingErr = errors.New("connection refused")
	assert.Error(t, d.Ping(context.Background()))
}
