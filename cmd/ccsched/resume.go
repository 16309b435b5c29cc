package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resume <task-id|session-id> [-- claude-args...]",
		Aliases: []string{"r"},
		Short:   "Resume a task's Claude session interactively in its working directory",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isLocalHost(flagHost) {
				return fmt.Errorf("resume only works against a local scheduler, got host %q", flagHost)
			}

			extraArgs := args[1:]
			if at := cmd.ArgsLenAtDash(); at >= 0 {
				extraArgs = args[at:]
			}

			sessionID, cwd, err := resolveSession(cmd, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Resuming session %s in %s\n", sessionID, cwd)

			claudeArgs := append([]string{"-r", sessionID}, extraArgs...)
			claude := exec.Command("claude", claudeArgs...)
			claude.Dir = cwd
			claude.Stdin = os.Stdin
			claude.Stdout = os.Stdout
			claude.Stderr = os.Stderr
			return claude.Run()
		},
	}
}

// resolveSession maps a numeric task id or a raw session id to the session to
// resume and the directory to resume it in.
func resolveSession(cmd *cobra.Command, ref string) (string, string, error) {
	c := apiClient()

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		task, err := c.Get(cmd.Context(), id)
		if err != nil {
			return "", "", err
		}
		if task.SessionID == nil {
			return "", "", fmt.Errorf("task %d has no session yet", id)
		}
		return *task.SessionID, task.Cwd, nil
	}

	task, err := c.GetBySession(cmd.Context(), ref)
	if err != nil {
		return "", "", err
	}
	if task.SessionID == nil {
		return "", "", fmt.Errorf("task %d has no session yet", task.ID)
	}
	return *task.SessionID, task.Cwd, nil
}

func isLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}
