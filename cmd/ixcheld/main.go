// Package main provides the entry point for the ixcheld daemon binary.
package main

import (
	"os"

	"github.com/kevinmichaelchen/ixchel/cmd/ixcheld/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
