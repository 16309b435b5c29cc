// Command ccsched is the Claude Code scheduler: a daemon that executes
// queued agent tasks one at a time, plus the CLI client for managing them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccsched/ccsched/internal/client"
)

var (
	flagHost string
	flagPort int
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ccsched",
		Short:         "Claude Code Scheduler - queued task execution for Claude Code",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagHost, "host", "H", "localhost", "scheduler host")
	root.PersistentFlags().IntVarP(&flagPort, "port", "p", client.DefaultPort, "scheduler port")

	root.AddCommand(
		newStartCmd(),
		newSubmitCmd(),
		newAddCmd(),
		newListCmd(),
		newShowCmd(),
		newResumeCmd(),
		newDeleteCmd(),
		newRenameCmd(),
		newEditCmd(),
	)
	return root
}

func apiClient() *client.Client {
	return client.New(flagHost, flagPort)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
