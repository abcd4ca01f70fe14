// Command local runs the functions outside Lambda: it serves the Lambda
// Invoke API for use with `aws lambda invoke --endpoint-url`, invokes a
// single function with an event file and issues test tokens for the
// WebSocket authorizer.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "local",
		Short:        "Run the event handlers locally",
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newInvokeCommand(),
		newListCommand(),
		newTokenCommand(),
	)
	return root
}
