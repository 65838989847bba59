package crio

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/pkg/errors"
)

// CRIO drives crictl against a CRI endpoint. CRI has no notion of named
// volumes or networks, so those queries return empty lists.
type CRIO struct {
	socketPath string
	binary     string
}

// New instantiates a new CRIO runtime object
func New(host string) *CRIO {
	if host == "" {
		host = utils.CRIO_SOCKET_URI
	}
	return &CRIO{
		socketPath: host,
		binary:     "crictl",
	}
}

// Name returns the runtime name.
func (c *CRIO) Name() string {
	return utils.CRIO
}

// GetSocket is socket getter
func (c *CRIO) GetSocket() string {
	return c.socketPath
}

// Close is a no-op.
func (c *CRIO) Close() error {
	return nil
}

func (c *CRIO) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"--runtime-endpoint", c.socketPath}, args...)
	return exec.CommandContext(ctx, c.binary, full...)
}

func (c *CRIO) run(ctx context.Context, operation string, args ...string) ([]byte, error) {
	out, err := utils.RunCommand(c.command(ctx, args...), operation)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Ping checks that the CRI endpoint answers.
func (c *CRIO) Ping(ctx context.Context) error {
	_, err := c.run(ctx, "crictl version: ", "version")
	return err
}

type criContainer struct {
	ID       string `json:"id"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Image struct {
		Image string `json:"image"`
	} `json:"image"`
	State     string            `json:"state"`
	CreatedAt string            `json:"createdAt"`
	Labels    map[string]string `json:"labels"`
}

// ListContainers lists all containers known to the CRI endpoint.
func (c *CRIO) ListContainers(ctx context.Context) ([]state.Container, error) {
	out, err := c.run(ctx, "crictl ps: ", "ps", "-a", "-o", "json")
	if err != nil {
		return nil, err
	}
	return parsePS(out)
}

func parsePS(out []byte) ([]state.Container, error) {
	var listing struct {
		Containers []criContainer `json:"containers"`
	}
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, errors.Wrap(err, "decode crictl ps output")
	}
	containers := make([]state.Container, 0, len(listing.Containers))
	for _, ctr := range listing.Containers {
		st, status := describeState(ctr.State)
		containers = append(containers, state.Container{
			ID:      ctr.ID,
			Name:    ctr.Metadata.Name,
			Image:   ctr.Image.Image,
			Status:  status,
			State:   st,
			Created: nanosToRFC3339(ctr.CreatedAt),
			Ports:   []string{},
		})
	}
	return containers, nil
}

// describeState maps CRI container states onto the docker vocabulary.
func describeState(criState string) (string, string) {
	switch criState {
	case "CONTAINER_RUNNING":
		return state.StateRunning, "Up"
	case "CONTAINER_EXITED":
		return "exited", "Exited"
	case "CONTAINER_CREATED":
		return "created", "Created"
	default:
		return "unknown", "Unknown"
	}
}

func nanosToRFC3339(v string) string {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return v
	}
	return time.Unix(0, n).UTC().Format(time.RFC3339)
}

type inspectOutput struct {
	Status struct {
		Labels map[string]string `json:"labels"`
		Mounts []struct {
			ContainerPath string `json:"containerPath"`
			HostPath      string `json:"hostPath"`
			Readonly      bool   `json:"readonly"`
		} `json:"mounts"`
	} `json:"status"`
	Info struct {
		RuntimeSpec struct {
			Process struct {
				Env []string `json:"env"`
			} `json:"process"`
		} `json:"runtimeSpec"`
	} `json:"info"`
}

func (c *CRIO) inspect(ctx context.Context, id string) (*inspectOutput, error) {
	out, err := c.run(ctx, "crictl inspect: ", "inspect", "-o", "json", id)
	if err != nil {
		if utils.IsMissingContainer(err) {
			return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return nil, err
	}
	var parsed inspectOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, errors.Wrapf(err, "decode crictl inspect output for %s", id)
	}
	return &parsed, nil
}

// ContainerEnv returns the process environment from the runtime spec.
func (c *CRIO) ContainerEnv(ctx context.Context, id string) ([]string, error) {
	parsed, err := c.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	return envOf(parsed), nil
}

func envOf(parsed *inspectOutput) []string {
	env := []string{}
	for _, kv := range parsed.Info.RuntimeSpec.Process.Env {
		if strings.Contains(kv, "=") {
			env = append(env, kv)
		}
	}
	return env
}

// ContainerMounts returns bind mounts as reported by CRI.
func (c *CRIO) ContainerMounts(ctx context.Context, id string) ([]state.Mount, error) {
	parsed, err := c.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	return mountsOf(parsed), nil
}

func mountsOf(parsed *inspectOutput) []state.Mount {
	mounts := make([]state.Mount, 0, len(parsed.Status.Mounts))
	for _, m := range parsed.Status.Mounts {
		mode := "rw"
		if m.Readonly {
			mode = "ro"
		}
		mounts = append(mounts, state.Mount{Source: m.HostPath, Destination: m.ContainerPath, Mode: mode, Type: "bind"})
	}
	return mounts
}

// ContainerNetworks is empty: networking belongs to the pod sandbox.
func (c *CRIO) ContainerNetworks(ctx context.Context, id string) ([]state.NetworkAttachment, error) {
	if _, err := c.inspect(ctx, id); err != nil {
		return nil, err
	}
	return []state.NetworkAttachment{}, nil
}

// ContainerPorts is empty: port mappings belong to the pod sandbox.
func (c *CRIO) ContainerPorts(ctx context.Context, id string) ([]state.PortBinding, error) {
	if _, err := c.inspect(ctx, id); err != nil {
		return nil, err
	}
	return []state.PortBinding{}, nil
}

// ContainerLabels returns the container labels.
func (c *CRIO) ContainerLabels(ctx context.Context, id string) (map[string]string, error) {
	parsed, err := c.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	labels := map[string]string{}
	for k, v := range parsed.Status.Labels {
		labels[k] = v
	}
	return labels, nil
}

// ListVolumes returns an empty list.
func (c *CRIO) ListVolumes(ctx context.Context) ([]state.Volume, error) {
	return []state.Volume{}, nil
}

// ListNetworks returns an empty list.
func (c *CRIO) ListNetworks(ctx context.Context) ([]state.Network, error) {
	return []state.Network{}, nil
}

// StartContainer starts a created container.
func (c *CRIO) StartContainer(ctx context.Context, id string) error {
	_, err := c.run(ctx, "crictl start: ", "start", id)
	if err != nil {
		if utils.IsMissingContainer(err) {
			return errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return err
	}
	return nil
}
