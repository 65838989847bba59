package podman

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePS(t *testing.T) {
	out := []byte(`[
	{"Id":"abc","Names":["web"],"Image":"nginx:latest","Command":["nginx","-g","daemon off;"],
	 "Created":1700000000,"State":"running","Status":"Up 2 minutes",
	 "Ports":[{"host_ip":"","container_port":80,"host_port":8080,"protocol":"tcp"}]},
	{"Id":"def","Names":["job"],"Image":"busybox","Command":"sh -c true",
	 "Created":"2024-01-02T03:04:05Z","State":"Exited","Status":"Exited (0) 1 hour ago","Ports":null}
	]`)

	containers, err := parsePS(out)
	require.NoError(t, err)
	require.Len(t, containers, 2)

	assert.Equal(t, "abc", containers[0].ID)
	assert.Equal(t, "web", containers[0].Name)
	assert.Equal(t, "nginx -g daemon off;", containers[0].Command)
	assert.Equal(t, "2023-11-14T22:13:20Z", containers[0].Created)
	assert.Equal(t, "running", containers[0].State)
	assert.Equal(t, []string{"0.0.0.0:8080->80/tcp"}, containers[0].Ports)

	assert.Equal(t, "sh -c true", containers[1].Command)
	assert.Equal(t, "2024-01-02T03:04:05Z", containers[1].Created)
	assert.Equal(t, "exited", containers[1].State)
	assert.Empty(t, containers[1].Ports)
	assert.NotNil(t, containers[1].Ports)
}

func TestParsePSInvalid(t *testing.T) {
	_, err := parsePS([]byte("not json"))
	assert.Error(t, err)
}

func TestFormatPortsUnpublished(t *testing.T) {
	assert.Equal(t, []string{"53/udp"}, formatPorts([]psPort{{ContainerPort: 53, Protocol: "udp"}}))
}

func TestParseInspect(t *testing.T) {
	out := []byte(`[{"Config":{"Env":["A=1"],"Labels":{"k":"v"}},
	"Mounts":[{"Type":"volume","Name":"data","Source":"","Destination":"/data","Mode":"z"}],
	"NetworkSettings":{"Networks":{"podman":{"IPAddress":"10.88.0.2","Gateway":"10.88.0.1","MacAddress":"aa"}},
	"Ports":{"80/tcp":[{"HostIp":"","HostPort":"8080"}]}}}]`)

	entry, err := parseInspect(out, "abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1"}, entry.Config.Env)
	assert.Equal(t, "v", entry.Config.Labels["k"])
	require.Len(t, entry.Mounts, 1)
	assert.Equal(t, "data", entry.Mounts[0].Name)
	assert.Equal(t, "10.88.0.2", entry.NetworkSettings.Networks["podman"].IPAddress)
	assert.Equal(t, "8080", entry.NetworkSettings.Ports["80/tcp"][0].HostPort)
}

func TestParseInspectEmpty(t *testing.T) {
	_, err := parseInspect([]byte(`[]`), "abc")
	assert.ErrorContains(t, err, "abc")
}

func TestParseNetworks(t *testing.T) {
	networks, err := parseNetworks([]byte(`[{"name":"podman","id":"2f25","driver":"bridge"},{"Name":"old","ID":"99","Driver":"macvlan"}]`))
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, "podman", networks[0].Name)
	assert.Equal(t, "2f25", networks[0].ID)
	assert.Equal(t, "bridge", networks[0].Driver)
	assert.Equal(t, "local", networks[0].Scope)
	assert.Equal(t, "old", networks[1].Name)
	assert.Equal(t, "99", networks[1].ID)
}

func TestCommandRemoteFlags(t *testing.T) {
	p := New("unix:///run/podman/podman.sock")
	cmd := p.command(context.Background(), "ps")
	assert.Equal(t, []string{"podman", "--remote", "--url", "unix:///run/podman/podman.sock", "ps"}, cmd.Args)

	local := New("")
	assert.Equal(t, []string{"podman", "ps"}, local.command(context.Background(), "ps").Args)
}
