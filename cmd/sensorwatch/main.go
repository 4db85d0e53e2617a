// Package main is the entry point for the sensorwatch service and CLI.
package main

import (
	"os"

	"sensorwatch/cmd/sensorwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
