// ./main.go
package main

import (
	"github.com/romirom11/agentpass/cmd"
)

// main is the entry point for the agentpass CLI.
func main() {
	// Command-line parsing, configuration, and execution all live in cmd.
	cmd.Execute()
}
