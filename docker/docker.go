package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/docker/docker/api/types"
	containerTypes "github.com/docker/docker/api/types/container"
	networkTypes "github.com/docker/docker/api/types/network"
	volumeTypes "github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
)

// apiClient is the subset of the Docker Engine API used here.
type apiClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options containerTypes.ListOptions) ([]containerTypes.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (containerTypes.InspectResponse, error)
	ContainerStart(ctx context.Context, containerID string, options containerTypes.StartOptions) error
	VolumeList(ctx context.Context, options volumeTypes.ListOptions) (volumeTypes.ListResponse, error)
	NetworkList(ctx context.Context, options networkTypes.ListOptions) ([]networkTypes.Summary, error)
	Close() error
}

// Docker talks to the Docker Engine API over its control socket.
type Docker struct {
	socketPath string
	cli        apiClient
}

// New instantiates a new Docker runtime object
func New(endpoint string) (*Docker, error) {
	if endpoint == "" {
		endpoint = utils.DOCKER_SOCKET_URI
	}
	cli, err := client.NewClientWithOpts(client.WithAPIVersionNegotiation(), client.WithHost(endpoint))
	if err != nil {
		return nil, errors.Wrapf(err, "error creating docker client for %s", endpoint)
	}
	return &Docker{socketPath: endpoint, cli: cli}, nil
}

// Name returns the runtime name.
func (d *Docker) Name() string {
	return utils.DOCKER
}

// GetSocket is socket getter
func (d *Docker) GetSocket() string {
	return d.socketPath
}

// Close releases the API client.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Ping checks that the daemon answers.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// ListContainers lists all containers, running or not.
func (d *Docker) ListContainers(ctx context.Context) ([]state.Container, error) {
	summaries, err := d.cli.ContainerList(ctx, containerTypes.ListOptions{All: true})
	if err != nil {
		return nil, errors.Wrap(err, "docker container list")
	}
	containers := make([]state.Container, 0, len(summaries))
	for _, s := range summaries {
		containers = append(containers, state.Container{
			ID:      s.ID,
			Name:    containerName(s.Names),
			Image:   s.Image,
			Status:  s.Status,
			State:   s.State,
			Command: s.Command,
			Created: time.Unix(s.Created, 0).UTC().Format(time.RFC3339),
			Ports:   formatPorts(s.Ports),
		})
	}
	return containers, nil
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// formatPorts renders summary ports the way `docker ps` does.
func formatPorts(ports []containerTypes.Port) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort != 0 {
			ip := p.IP
			if ip == "" {
				ip = "0.0.0.0"
			}
			out = append(out, fmt.Sprintf("%s:%d->%d/%s", ip, p.PublicPort, p.PrivatePort, p.Type))
			continue
		}
		out = append(out, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
	}
	return out
}

// ListVolumes lists named volumes.
func (d *Docker) ListVolumes(ctx context.Context) ([]state.Volume, error) {
	resp, err := d.cli.VolumeList(ctx, volumeTypes.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "docker volume list")
	}
	volumes := make([]state.Volume, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		if v == nil {
			continue
		}
		volumes = append(volumes, state.Volume{Name: v.Name, Driver: v.Driver, Mountpoint: v.Mountpoint})
	}
	return volumes, nil
}

// ListNetworks lists networks.
func (d *Docker) ListNetworks(ctx context.Context) ([]state.Network, error) {
	summaries, err := d.cli.NetworkList(ctx, networkTypes.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "docker network list")
	}
	networks := make([]state.Network, 0, len(summaries))
	for _, n := range summaries {
		networks = append(networks, state.Network{ID: n.ID, Name: n.Name, Driver: n.Driver, Scope: n.Scope})
	}
	return networks, nil
}

func (d *Docker) inspect(ctx context.Context, id string) (containerTypes.InspectResponse, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return resp, errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return resp, errors.Wrapf(err, "docker inspect %s", id)
	}
	return resp, nil
}

// ContainerEnv returns the configured environment of the container.
func (d *Docker) ContainerEnv(ctx context.Context, id string) ([]string, error) {
	resp, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	env := []string{}
	if resp.Config != nil {
		for _, kv := range resp.Config.Env {
			if strings.Contains(kv, "=") {
				env = append(env, kv)
			}
		}
	}
	return env, nil
}

// ContainerMounts returns the container's mounts.
func (d *Docker) ContainerMounts(ctx context.Context, id string) ([]state.Mount, error) {
	resp, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	mounts := make([]state.Mount, 0, len(resp.Mounts))
	for _, m := range resp.Mounts {
		mounts = append(mounts, state.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        m.Mode,
			Type:        string(m.Type),
		})
	}
	return mounts, nil
}

// ContainerNetworks returns the container's network attachments sorted by name.
func (d *Docker) ContainerNetworks(ctx context.Context, id string) ([]state.NetworkAttachment, error) {
	resp, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments := []state.NetworkAttachment{}
	if resp.NetworkSettings == nil {
		return attachments, nil
	}
	for name, ep := range resp.NetworkSettings.Networks {
		a := state.NetworkAttachment{Name: name}
		if ep != nil {
			a.IPAddress = ep.IPAddress
			a.Gateway = ep.Gateway
			a.MacAddress = ep.MacAddress
		}
		attachments = append(attachments, a)
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].Name < attachments[j].Name })
	return attachments, nil
}

// ContainerPorts returns exposed ports and their host bindings sorted by port.
func (d *Docker) ContainerPorts(ctx context.Context, id string) ([]state.PortBinding, error) {
	resp, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	ports := []state.PortBinding{}
	if resp.NetworkSettings == nil {
		return ports, nil
	}
	for port, bindings := range resp.NetworkSettings.Ports {
		hostPorts := make([]string, 0, len(bindings))
		for _, b := range bindings {
			hostPorts = append(hostPorts, b.HostPort)
		}
		ports = append(ports, state.PortBinding{ContainerPort: string(port), HostPorts: hostPorts})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ContainerPort < ports[j].ContainerPort })
	return ports, nil
}

// ContainerLabels returns the container's labels.
func (d *Docker) ContainerLabels(ctx context.Context, id string) (map[string]string, error) {
	resp, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	labels := map[string]string{}
	if resp.Config != nil {
		for k, v := range resp.Config.Labels {
			labels[k] = v
		}
	}
	return labels, nil
}

// StartContainer starts a stopped container. Starting a running container is a no-op.
func (d *Docker) StartContainer(ctx context.Context, id string) error {
	err := d.cli.ContainerStart(ctx, id, containerTypes.StartOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return errors.Wrapf(err, "docker start %s", id)
	}
	return nil
}
