// Command aiotvet runs the AiOtvet support assistant: an HTTP service that
// answers customer messages from a knowledge base and hands dialogs to human
// operators, plus CLI commands for maintaining that knowledge base.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/aiotvet-go/cmd/aiotvet/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
