// Package main provides the entry point for the yabot CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/yabot-dev/yabot/cmd/yabot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exitErr *commands.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
