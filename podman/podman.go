package podman

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/pkg/errors"
)

// Podman drives the podman CLI, remotely when an endpoint is set.
type Podman struct {
	socketPath string
	binary     string
}

// New instantiates a new Podman runtime object
func New(endpoint string) *Podman {
	return &Podman{
		socketPath: endpoint,
		binary:     "podman",
	}
}

// Name returns the runtime name.
func (d *Podman) Name() string {
	return utils.PODMAN
}

// GetSocket is socket getter
func (d *Podman) GetSocket() string {
	return d.socketPath
}

// Close is a no-op; every call is a separate process.
func (d *Podman) Close() error {
	return nil
}

func (d *Podman) command(ctx context.Context, args ...string) *exec.Cmd {
	full := make([]string, 0, len(args)+3)
	if d.socketPath != "" {
		full = append(full, "--remote", "--url", d.socketPath)
	}
	full = append(full, args...)
	return exec.CommandContext(ctx, d.binary, full...)
}

func (d *Podman) run(ctx context.Context, operation string, args ...string) ([]byte, error) {
	out, err := utils.RunCommand(d.command(ctx, args...), operation)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Ping checks that podman answers.
func (d *Podman) Ping(ctx context.Context) error {
	_, err := d.run(ctx, "podman info: ", "info", "--format", "json")
	return err
}

type psEntry struct {
	ID      string            `json:"Id"`
	Names   []string          `json:"Names"`
	Image   string            `json:"Image"`
	Command json.RawMessage   `json:"Command"`
	Created json.RawMessage   `json:"Created"`
	State   string            `json:"State"`
	Status  string            `json:"Status"`
	Ports   []psPort          `json:"Ports"`
	Labels  map[string]string `json:"Labels"`
}

type psPort struct {
	HostIP        string `json:"host_ip"`
	ContainerPort uint16 `json:"container_port"`
	HostPort      uint16 `json:"host_port"`
	Protocol      string `json:"protocol"`
}

// ListContainers lists all containers.
func (d *Podman) ListContainers(ctx context.Context) ([]state.Container, error) {
	out, err := d.run(ctx, "podman ps: ", "ps", "-a", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parsePS(out)
}

func parsePS(out []byte) ([]state.Container, error) {
	var entries []psEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.Wrap(err, "decode podman ps output")
	}
	containers := make([]state.Container, 0, len(entries))
	for _, e := range entries {
		name := ""
		if len(e.Names) > 0 {
			name = e.Names[0]
		}
		containers = append(containers, state.Container{
			ID:      e.ID,
			Name:    name,
			Image:   e.Image,
			Status:  e.Status,
			State:   strings.ToLower(e.State),
			Command: flexibleCommand(e.Command),
			Created: flexibleCreated(e.Created),
			Ports:   formatPorts(e.Ports),
		})
	}
	return containers, nil
}

// flexibleCommand accepts either a string or an argv array.
func flexibleCommand(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var argv []string
	if json.Unmarshal(raw, &argv) == nil {
		return strings.Join(argv, " ")
	}
	return ""
}

// flexibleCreated accepts unix seconds or a preformatted timestamp.
func flexibleCreated(raw json.RawMessage) string {
	var secs int64
	if json.Unmarshal(raw, &secs) == nil {
		return time.Unix(secs, 0).UTC().Format(time.RFC3339)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func formatPorts(ports []psPort) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		if p.HostPort != 0 {
			ip := p.HostIP
			if ip == "" {
				ip = "0.0.0.0"
			}
			out = append(out, fmt.Sprintf("%s:%d->%d/%s", ip, p.HostPort, p.ContainerPort, proto))
			continue
		}
		out = append(out, fmt.Sprintf("%d/%s", p.ContainerPort, proto))
	}
	return out
}

type inspectEntry struct {
	Config struct {
		Env    []string          `json:"Env"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	Mounts []struct {
		Type        string `json:"Type"`
		Name        string `json:"Name"`
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
		Mode        string `json:"Mode"`
	} `json:"Mounts"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress  string `json:"IPAddress"`
			Gateway    string `json:"Gateway"`
			MacAddress string `json:"MacAddress"`
		} `json:"Networks"`
		Ports map[string][]struct {
			HostIP   string `json:"HostIp"`
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
}

func (d *Podman) inspect(ctx context.Context, id string) (*inspectEntry, error) {
	out, err := d.run(ctx, "podman inspect: ", "inspect", "--type", "container", "--format", "json", id)
	if err != nil {
		if utils.IsMissingContainer(err) {
			return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return nil, err
	}
	return parseInspect(out, id)
}

func parseInspect(out []byte, id string) (*inspectEntry, error) {
	var entries []inspectEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.Wrapf(err, "decode podman inspect output for %s", id)
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
	}
	return &entries[0], nil
}

// ContainerEnv returns the configured environment.
func (d *Podman) ContainerEnv(ctx context.Context, id string) ([]string, error) {
	entry, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	env := []string{}
	for _, kv := range entry.Config.Env {
		if strings.Contains(kv, "=") {
			env = append(env, kv)
		}
	}
	return env, nil
}

// ContainerMounts returns mounts; named volumes use their name as source when
// podman reports none.
func (d *Podman) ContainerMounts(ctx context.Context, id string) ([]state.Mount, error) {
	entry, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	mounts := make([]state.Mount, 0, len(entry.Mounts))
	for _, m := range entry.Mounts {
		source := m.Source
		if source == "" {
			source = m.Name
		}
		mounts = append(mounts, state.Mount{Source: source, Destination: m.Destination, Mode: m.Mode, Type: m.Type})
	}
	return mounts, nil
}

// ContainerNetworks returns network attachments sorted by name.
func (d *Podman) ContainerNetworks(ctx context.Context, id string) ([]state.NetworkAttachment, error) {
	entry, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments := make([]state.NetworkAttachment, 0, len(entry.NetworkSettings.Networks))
	for name, n := range entry.NetworkSettings.Networks {
		attachments = append(attachments, state.NetworkAttachment{
			Name:       name,
			IPAddress:  n.IPAddress,
			Gateway:    n.Gateway,
			MacAddress: n.MacAddress,
		})
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].Name < attachments[j].Name })
	return attachments, nil
}

// ContainerPorts returns port bindings sorted by container port.
func (d *Podman) ContainerPorts(ctx context.Context, id string) ([]state.PortBinding, error) {
	entry, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	ports := make([]state.PortBinding, 0, len(entry.NetworkSettings.Ports))
	for port, bindings := range entry.NetworkSettings.Ports {
		hostPorts := make([]string, 0, len(bindings))
		for _, b := range bindings {
			hostPorts = append(hostPorts, b.HostPort)
		}
		ports = append(ports, state.PortBinding{ContainerPort: port, HostPorts: hostPorts})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ContainerPort < ports[j].ContainerPort })
	return ports, nil
}

// ContainerLabels returns the container labels.
func (d *Podman) ContainerLabels(ctx context.Context, id string) (map[string]string, error) {
	entry, err := d.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	labels := map[string]string{}
	for k, v := range entry.Config.Labels {
		labels[k] = v
	}
	return labels, nil
}

// ListVolumes lists named volumes.
func (d *Podman) ListVolumes(ctx context.Context) ([]state.Volume, error) {
	out, err := d.run(ctx, "podman volume ls: ", "volume", "ls", "--format", "json")
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Name       string `json:"Name"`
		Driver     string `json:"Driver"`
		Mountpoint string `json:"Mountpoint"`
	}
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.Wrap(err, "decode podman volume ls output")
	}
	volumes := make([]state.Volume, 0, len(entries))
	for _, e := range entries {
		volumes = append(volumes, state.Volume{Name: e.Name, Driver: e.Driver, Mountpoint: e.Mountpoint})
	}
	return volumes, nil
}

// ListNetworks lists networks. Podman networks are always host-local.
func (d *Podman) ListNetworks(ctx context.Context) ([]state.Network, error) {
	out, err := d.run(ctx, "podman network ls: ", "network", "ls", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parseNetworks(out)
}

func parseNetworks(out []byte) ([]state.Network, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.Wrap(err, "decode podman network ls output")
	}
	networks := make([]state.Network, 0, len(entries))
	for _, e := range entries {
		networks = append(networks, state.Network{
			ID:     field(e, "id", "ID", "Id"),
			Name:   field(e, "name", "Name"),
			Driver: field(e, "driver", "Driver"),
			Scope:  "local",
		})
	}
	return networks, nil
}

// field returns the first string value among keys; podman changed the casing
// of network fields between major versions.
func field(entry map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := entry[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return ""
}

// StartContainer starts the container by id.
func (d *Podman) StartContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "podman start: ", "start", id)
	if err != nil {
		if utils.IsMissingContainer(err) {
			return errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return err
	}
	return nil
}
