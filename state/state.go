// Package state defines the snapshot document schema and its on-disk codec.
package state

import "time"

// StateRunning is the recorded state that makes a container eligible for restore.
const StateRunning = "running"

// State is the unit persisted per snapshot.
type State struct {
	CapturedAt time.Time   `json:"capturedAt" yaml:"capturedAt"`
	Containers []Container `json:"containers" yaml:"containers"`
	Volumes    []Volume    `json:"volumes" yaml:"volumes"`
	Networks   []Network   `json:"networks" yaml:"networks"`
}

// Container is one runtime container as seen at capture time.
type Container struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Image   string   `json:"image" yaml:"image"`
	Status  string   `json:"status" yaml:"status"`
	State   string   `json:"state" yaml:"state"`
	Command string   `json:"command" yaml:"command"`
	Created string   `json:"created" yaml:"created"`
	Ports   []string `json:"ports" yaml:"ports"`
	Details Details  `json:"details" yaml:"details"`
}

// Running reports whether the container was running when captured.
func (c Container) Running() bool {
	return c.State == StateRunning
}

// Details holds the per-container fields fetched with separate queries.
type Details struct {
	Env      []string            `json:"env" yaml:"env"`
	Volumes  []Mount             `json:"volumes" yaml:"volumes"`
	Networks []NetworkAttachment `json:"networks" yaml:"networks"`
	Ports    []PortBinding       `json:"ports" yaml:"ports"`
	Labels   map[string]string   `json:"labels" yaml:"labels"`
}

// EmptyDetails returns details with every field set to its empty, non-nil default.
func EmptyDetails() Details {
	return Details{
		Env:      []string{},
		Volumes:  []Mount{},
		Networks: []NetworkAttachment{},
		Ports:    []PortBinding{},
		Labels:   map[string]string{},
	}
}

type Mount struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	Mode        string `json:"mode" yaml:"mode"`
	Type        string `json:"type" yaml:"type"`
}

type NetworkAttachment struct {
	Name       string `json:"name" yaml:"name"`
	IPAddress  string `json:"ipAddress" yaml:"ipAddress"`
	Gateway    string `json:"gateway" yaml:"gateway"`
	MacAddress string `json:"macAddress" yaml:"macAddress"`
}

type PortBinding struct {
	ContainerPort string   `json:"containerPort" yaml:"containerPort"`
	HostPorts     []string `json:"hostPorts" yaml:"hostPorts"`
}

type Volume struct {
	Name       string `json:"name" yaml:"name"`
	Driver     string `json:"driver" yaml:"driver"`
	Mountpoint string `json:"mountpoint" yaml:"mountpoint"`
}

type Network struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Driver string `json:"driver" yaml:"driver"`
	Scope  string `json:"scope" yaml:"scope"`
}

// Clone returns a deep copy so consumers never share slices with the original.
func (s State) Clone() State {
	out := State{CapturedAt: s.CapturedAt}
	if s.Containers != nil {
		out.Containers = make([]Container, len(s.Containers))
		for i, c := range s.Containers {
			out.Containers[i] = c.clone()
		}
	}
	if s.Volumes != nil {
		out.Volumes = append([]Volume{}, s.Volumes...)
	}
	if s.Networks != nil {
		out.Networks = append([]Network{}, s.Networks...)
	}
	return out
}

func (c Container) clone() Container {
	out := c
	out.Ports = cloneStrings(c.Ports)
	out.Details.Env = cloneStrings(c.Details.Env)
	if c.Details.Volumes != nil {
		out.Details.Volumes = append([]Mount{}, c.Details.Volumes...)
	}
	if c.Details.Networks != nil {
		out.Details.Networks = append([]NetworkAttachment{}, c.Details.Networks...)
	}
	if c.Details.Ports != nil {
		out.Details.Ports = make([]PortBinding, len(c.Details.Ports))
		for i, p := range c.Details.Ports {
			out.Details.Ports[i] = PortBinding{ContainerPort: p.ContainerPort, HostPorts: cloneStrings(p.HostPorts)}
		}
	}
	if c.Details.Labels != nil {
		out.Details.Labels = make(map[string]string, len(c.Details.Labels))
		for k, v := range c.Details.Labels {
			out.Details.Labels[k] = v
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
