package containerd

import (
	"context"
	"fmt"
	"strings"
	"time"

	containerdApi "github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Labels that tools built on containerd use to carry a human name.
var nameLabels = []string{
	"nerdctl/name",
	"io.kubernetes.container.name",
	"io.containerd.container.name",
}

// Containerd queries containerd over its gRPC socket. Volumes, networks and
// port bindings are not containerd objects and are reported as empty.
type Containerd struct {
	socketPath string
	namespace  string
	client     *containerdApi.Client
}

// New instantiates a new Containerd runtime object
func New(endpoint, namespace string) (*Containerd, error) {
	if endpoint == "" {
		endpoint = utils.CONTAINERD_SOCKET_URI
	}
	if namespace == "" {
		namespace = utils.CONTAINERD_DEFAULT_NS
	}
	client, err := containerdApi.New(
		strings.TrimPrefix(endpoint, "unix://"),
		containerdApi.WithDefaultNamespace(namespace),
		containerdApi.WithTimeout(utils.Timeout),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating containerd client for %s", endpoint)
	}
	return &Containerd{socketPath: endpoint, namespace: namespace, client: client}, nil
}

// Name returns the runtime name.
func (c *Containerd) Name() string {
	return utils.CONTAINERD
}

// GetSocket is socket getter
func (c *Containerd) GetSocket() string {
	return c.socketPath
}

// Close releases the gRPC connection.
func (c *Containerd) Close() error {
	return c.client.Close()
}

func (c *Containerd) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

// Ping asks the daemon for its version.
func (c *Containerd) Ping(ctx context.Context) error {
	_, err := c.client.Version(c.ctx(ctx))
	return err
}

// ListContainers lists the containers of the configured namespace.
func (c *Containerd) ListContainers(ctx context.Context) ([]state.Container, error) {
	ctx = c.ctx(ctx)
	list, err := c.client.Containers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "containerd container list")
	}
	containers := make([]state.Container, 0, len(list))
	for _, ctr := range list {
		info, err := ctr.Info(ctx, containerdApi.WithoutRefreshedMetadata)
		if err != nil {
			logrus.Debugf("containerd info %s: %v", ctr.ID(), err)
			continue
		}
		record := state.Container{
			ID:      info.ID,
			Name:    containerName(info.ID, info.Labels),
			Image:   info.Image,
			Created: info.CreatedAt.UTC().Format(time.RFC3339),
			Ports:   []string{},
		}
		if spec, err := ctr.Spec(ctx); err == nil && spec.Process != nil {
			record.Command = strings.Join(spec.Process.Args, " ")
		}
		status, err := taskStatus(ctx, ctr)
		if err != nil {
			logrus.Debugf("containerd task status %s: %v", ctr.ID(), err)
		}
		record.State, record.Status = describeStatus(status)
		containers = append(containers, record)
	}
	return containers, nil
}

func taskStatus(ctx context.Context, ctr containerdApi.Container) (*containerdApi.Status, error) {
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	status, err := task.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func containerName(id string, labels map[string]string) string {
	for _, key := range nameLabels {
		if name := labels[key]; name != "" {
			return name
		}
	}
	return id
}

// describeStatus maps a task status onto docker's state vocabulary. A nil
// status means the container has no task.
func describeStatus(status *containerdApi.Status) (string, string) {
	if status == nil {
		return "created", "Created"
	}
	switch status.Status {
	case containerdApi.Running:
		return "running", "Up"
	case containerdApi.Paused, containerdApi.Pausing:
		return "paused", "Paused"
	case containerdApi.Stopped:
		return "exited", fmt.Sprintf("Exited (%d)", status.ExitStatus)
	case containerdApi.Created:
		return "created", "Created"
	default:
		return "unknown", "Unknown"
	}
}

func (c *Containerd) load(ctx context.Context, id string) (containerdApi.Container, error) {
	ctr, err := c.client.LoadContainer(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, errors.Wrapf(errdefs.ErrNotFound, "container %s", id)
		}
		return nil, errors.Wrapf(err, "containerd load %s", id)
	}
	return ctr, nil
}

// ContainerEnv returns the process environment from the OCI spec.
func (c *Containerd) ContainerEnv(ctx context.Context, id string) ([]string, error) {
	ctx = c.ctx(ctx)
	ctr, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "containerd spec %s", id)
	}
	env := []string{}
	if spec.Process != nil {
		for _, kv := range spec.Process.Env {
			if strings.Contains(kv, "=") {
				env = append(env, kv)
			}
		}
	}
	return env, nil
}

// ContainerMounts returns the mounts from the OCI spec.
func (c *Containerd) ContainerMounts(ctx context.Context, id string) ([]state.Mount, error) {
	ctx = c.ctx(ctx)
	ctr, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "containerd spec %s", id)
	}
	mounts := make([]state.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, state.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        strings.Join(m.Options, ","),
			Type:        m.Type,
		})
	}
	return mounts, nil
}

// ContainerNetworks is always empty: network attachment is done by CNI outside containerd.
func (c *Containerd) ContainerNetworks(ctx context.Context, id string) ([]state.NetworkAttachment, error) {
	if _, err := c.load(c.ctx(ctx), id); err != nil {
		return nil, err
	}
	return []state.NetworkAttachment{}, nil
}

// ContainerPorts is always empty for the same reason as ContainerNetworks.
func (c *Containerd) ContainerPorts(ctx context.Context, id string) ([]state.PortBinding, error) {
	if _, err := c.load(c.ctx(ctx), id); err != nil {
		return nil, err
	}
	return []state.PortBinding{}, nil
}

// ContainerLabels returns the container labels.
func (c *Containerd) ContainerLabels(ctx context.Context, id string) (map[string]string, error) {
	ctx = c.ctx(ctx)
	ctr, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	labels, err := ctr.Labels(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "containerd labels %s", id)
	}
	if labels == nil {
		labels = map[string]string{}
	}
	return labels, nil
}

// ListVolumes returns nothing; containerd has no volume objects.
func (c *Containerd) ListVolumes(context.Context) ([]state.Volume, error) {
	return []state.Volume{}, nil
}

// ListNetworks returns nothing; containerd has no network objects.
func (c *Containerd) ListNetworks(context.Context) ([]state.Network, error) {
	return []state.Network{}, nil
}

// StartContainer starts a new task for the container, discarding a stopped
// one if present. A running task is left alone.
func (c *Containerd) StartContainer(ctx context.Context, id string) error {
	ctx = c.ctx(ctx)
	ctr, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	task, err := ctr.Task(ctx, nil)
	switch {
	case err == nil:
		status, err := task.Status(ctx)
		if err != nil {
			return errors.Wrapf(err, "containerd task status %s", id)
		}
		if status.Status == containerdApi.Running {
			return nil
		}
		if _, err := task.Delete(ctx); err != nil {
			return errors.Wrapf(err, "containerd delete stale task %s", id)
		}
	case !cerrdefs.IsNotFound(err):
		return errors.Wrapf(err, "containerd task %s", id)
	}

	task, err = ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return errors.Wrapf(err, "containerd new task %s", id)
	}
	if err := task.Start(ctx); err != nil {
		return errors.Wrapf(err, "containerd start %s", id)
	}
	return nil
}
