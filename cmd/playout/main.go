// Package main is the entry point for the playout application.
package main

import (
	"os"

	"github.com/playout-media/playout/cmd/playout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
