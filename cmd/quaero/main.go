// Package main provides the entry point for the quaero CLI.
package main

import (
	"os"

	"github.com/quaero/quaero/cmd/quaero/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
