// Package main is the entry point for the tvshift application.
package main

import (
	"os"

	"github.com/tvshift/tvshift/cmd/tvshift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
