package main

import (
	"context"
	"os"
	"time"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/capture"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/sirupsen/logrus"
)

// Captures the live runtime once and prints the document, without storing it.
func main() {
	logrus.SetLevel(logrus.DebugLevel)
	runtime, err := vessel.NewRuntime(vessel.Options{Runtime: os.Getenv("CONTAINER_RUNTIME"), Endpoint: os.Getenv("CRI_ENDPOINT")})
	if err != nil {
		logrus.Error(err)
		return
	}
	defer runtime.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := capture.New(runtime, capture.Options{}).Capture(ctx)
	if err != nil {
		logrus.Error(err)
		return
	}
	for _, w := range res.Warnings {
		logrus.Warn(w)
	}
	logrus.Infof("captured %d containers, %d volumes, %d networks from %s",
		len(res.State.Containers), len(res.State.Volumes), len(res.State.Networks), runtime.Name())

	data, err := state.Encode(res.State)
	if err != nil {
		logrus.Error(err)
		return
	}
	os.Stdout.Write(data)
}
