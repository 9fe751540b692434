// Package main provides the entry point for the provisioner CLI.
package main

import (
	"errors"
	"os"

	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
)

func main() {
	err := Execute()
	if err == nil {
		return
	}

	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	printError(err)
	os.Exit(execution.ExitConfiguration)
}
