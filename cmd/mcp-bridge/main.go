// Package main provides the mcp-bridge command.
package main

import (
	"fmt"
	"os"

	"mcpbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
