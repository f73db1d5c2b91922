// Command formctl compiles entity-backed forms, serves them over HTTP and
// materializes their submissions.
package main

import (
	"os"

	"github.com/identi-digital/identi-modules-sub000/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
