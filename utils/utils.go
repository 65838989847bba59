package utils

import (
	"bytes"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RunCommand operation is prepended to error message in case of error: optional
func RunCommand(cmd *exec.Cmd, operation string) (*bytes.Buffer, error) {
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	logrus.Debugf("cmd: %s", cmd.String())
	errorOnRun := cmd.Run()
	if errorOnRun != nil {
		logrus.Debugf("cmd failed: %s: %v", cmd.String(), errorOnRun)
		return nil, errors.Errorf("%s%v: %s", operation, errorOnRun, strings.TrimSpace(stderr.String()))
	}
	return &out, nil
}

// crictl reports a missing container as `container "<id>" not found`,
// sometimes with a colon after the id.
var crictlMissing = regexp.MustCompile(`container "[^"]*":? not found`)

// IsMissingContainer reports whether a CLI error says the container does not exist.
func IsMissingContainer(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") ||
		strings.Contains(msg, "no container with name or id") ||
		crictlMissing.MatchString(msg)
}
