// Package main provides the entry point for the convindex CLI.
package main

import (
	"os"

	"github.com/convindex/convindex/cmd/convindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
