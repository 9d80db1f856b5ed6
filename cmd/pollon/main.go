// Command pollon is the entry point for the Pollon classroom assistant.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// chat sessions, the semantic question cache, and the curation API.
package main

import (
	"fmt"
	"os"

	"github.com/pollon-ai/pollon-go/cmd/pollon/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
