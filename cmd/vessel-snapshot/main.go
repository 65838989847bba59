package main

import (
	"fmt"
	"os"

	"github.com/deepfence/vessel-snapshot/ui"
)

func main() {
	cmd := newRootCmd(newApp(os.Stdout))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
