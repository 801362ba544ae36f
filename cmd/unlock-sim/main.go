package main

import (
	"os"

	"github.com/keyguardkit/autounlock/cmd/unlock-sim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
