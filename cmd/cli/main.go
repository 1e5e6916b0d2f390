// Package main is the entry point for scenectl.
// scenectl is the developer terminal tool for interacting with the sceneplane API.
package main

import (
	"os"

	"sceneplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
