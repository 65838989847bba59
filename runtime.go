package vessel

import (
	"context"

	"github.com/deepfence/vessel-snapshot/state"
)

// Querier is the read-only view of a container runtime used for capture.
// ListContainers fills summary fields only; each detail field has its own
// query so one failing lookup does not take the others down with it.
type Querier interface {
	Name() string
	Ping(ctx context.Context) error
	ListContainers(ctx context.Context) ([]state.Container, error)
	ListVolumes(ctx context.Context) ([]state.Volume, error)
	ListNetworks(ctx context.Context) ([]state.Network, error)
	ContainerEnv(ctx context.Context, id string) ([]string, error)
	ContainerMounts(ctx context.Context, id string) ([]state.Mount, error)
	ContainerNetworks(ctx context.Context, id string) ([]state.NetworkAttachment, error)
	ContainerPorts(ctx context.Context, id string) ([]state.PortBinding, error)
	ContainerLabels(ctx context.Context, id string) (map[string]string, error)
}

// Starter starts a container by id. Implementations return an error wrapping
// errdefs.ErrNotFound when the id does not exist.
type Starter interface {
	StartContainer(ctx context.Context, id string) error
}

// Runtime interfaces all the container runtime methods
type Runtime interface {
	Querier
	Starter
	GetSocket() string
	Close() error
}
