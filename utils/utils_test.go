package utils

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand(t *testing.T) {
	out, err := RunCommand(exec.Command("sh", "-c", "printf hello"), "echo: ")
	require.NoError(t, err)
	assert.Equal(t, "hello", out.String())
}

func TestRunCommandFailureCarriesStderr(t *testing.T) {
	_, err := RunCommand(exec.Command("sh", "-c", "echo 'Error: No such container: abc' >&2; exit 1"), "podman start: ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "podman start: ")
	assert.Contains(t, err.Error(), "No such container: abc")
	assert.True(t, IsMissingContainer(err))
}

func TestRunCommandArgumentsAreNotInterpreted(t *testing.T) {
	out, err := RunCommand(exec.Command("printf", "%s", "name; rm -rf /tmp/x $(id)"), "printf: ")
	require.NoError(t, err)
	assert.Equal(t, "name; rm -rf /tmp/x $(id)", out.String())
}

func TestRunCommandHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunCommand(exec.CommandContext(ctx, "sleep", "5"), "sleep: ")
	assert.Error(t, err)
}

func TestIsMissingContainer(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Error: No such container: abc", true},
		{`Error: no container with name or ID "x" found: no such container`, true},
		{`rpc error: code = NotFound desc = container "x" not found`, true},
		{`getting the status of container "x": not found`, true},
		{"permission denied", false},
		{`crictl start: exec: "crictl": executable file not found in $PATH: `, false},
		{"podman start: exit status 125: Error: unable to start container \"x\": crun: executable file `foo` not found in $PATH: No such file or directory: OCI runtime attempted to invoke a command that was not found", false},
		{"image not found", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMissingContainer(errors.New(tt.msg)), tt.msg)
	}
	assert.False(t, IsMissingContainer(nil))
}

func TestDefaultEndpoint(t *testing.T) {
	assert.Equal(t, DOCKER_SOCKET_URI, DefaultEndpoint(DOCKER))
	assert.Equal(t, CONTAINERD_SOCKET_URI, DefaultEndpoint(CONTAINERD))
	assert.Equal(t, "", DefaultEndpoint("rkt"))
}
