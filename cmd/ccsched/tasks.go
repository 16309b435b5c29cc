package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccsched/ccsched/internal/client"
	"github.com/ccsched/ccsched/internal/task/models"
)

func newSubmitCmd() *cobra.Command {
	var (
		cwd     string
		depends string
	)

	cmd := &cobra.Command{
		Use:   "submit <name> [prompt-file]",
		Short: "Submit a task to the scheduler",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var promptFile string
			if len(args) == 2 {
				promptFile = args[1]
			}
			prompt, err := resolvePrompt(promptFile, "")
			if err != nil {
				return err
			}
			return submit(cmd, args[0], prompt, cwd, depends)
		},
	}

	cmd.Flags().StringVarP(&cwd, "cwd", "c", "", "working directory for the task (default: current directory)")
	cmd.Flags().StringVarP(&depends, "depends", "d", "", "comma-separated task ids this task depends on")
	return cmd
}

func newAddCmd() *cobra.Command {
	var (
		cwd     string
		depends string
	)

	cmd := &cobra.Command{
		Use:     "add <file>",
		Aliases: []string{"a"},
		Short:   "Add a file as a task: the filename becomes the name, the content the prompt",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %q: %w", args[0], err)
			}
			if strings.TrimSpace(string(data)) == "" {
				return fmt.Errorf("file %q is empty", args[0])
			}
			return submit(cmd, args[0], string(data), cwd, depends)
		},
	}

	cmd.Flags().StringVarP(&cwd, "cwd", "c", "", "working directory for the task (default: current directory)")
	cmd.Flags().StringVarP(&depends, "depends", "d", "", "comma-separated task ids this task depends on")
	return cmd
}

func submit(cmd *cobra.Command, name, prompt, cwd, depends string) error {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err == nil {
		cwd = abs
	}

	dependsOn, err := parseDepends(depends)
	if err != nil {
		return err
	}

	id, err := apiClient().Submit(cmd.Context(), &models.CreateTaskRequest{
		Name:      name,
		Prompt:    prompt,
		Cwd:       cwd,
		DependsOn: dependsOn,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Task submitted successfully. Task ID: %d\n", id)
	return nil
}

func parseDepends(depends string) ([]int64, error) {
	if depends == "" {
		return nil, nil
	}
	parts := strings.Split(depends, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newListCmd() *cobra.Command {
	var detail bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "l"},
		Short:   "List all tasks and their status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := apiClient().List(cmd.Context())
			if err != nil {
				return err
			}
			client.RenderList(os.Stdout, tasks, detail)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&detail, "detail", "d", false, "show timestamps and session ids")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "show <task-id>",
		Aliases: []string{"sh"},
		Short:   "Show detailed information about a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := apiClient().Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			client.RenderDetail(os.Stdout, task)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm", "d"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if err := apiClient().Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Task %d deleted successfully.\n", id)
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rename <task-id> <new-name>",
		Aliases: []string{"mv"},
		Short:   "Rename a task",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if err := apiClient().Rename(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			fmt.Printf("Task %d renamed to %q.\n", id, args[1])
			return nil
		},
	}
}

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "edit <task-id> [prompt-file]",
		Aliases: []string{"e"},
		Short:   "Edit a task's prompt; editing a finished task requeues it",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			c := apiClient()
			task, err := c.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			if task.Status.Terminal() {
				session := "(none)"
				if task.SessionID != nil {
					session = *task.SessionID
				}
				fmt.Printf("Warning: task %d is already %s.\n", task.ID, task.Status)
				fmt.Println("Editing it resets it to pending and starts a new execution.")
				fmt.Printf("The rerun resumes the previous session: %s\n", session)
				fmt.Print("Do you want to continue? (y/N): ")

				var answer string
				_, _ = fmt.Scanln(&answer)
				if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
					fmt.Println("Edit cancelled.")
					return nil
				}
			}

			var promptFile string
			if len(args) == 2 {
				promptFile = args[1]
			}
			prompt, err := resolvePrompt(promptFile, task.Prompt)
			if err != nil {
				return err
			}

			if err := c.Edit(cmd.Context(), id, prompt); err != nil {
				return err
			}
			fmt.Printf("Task %d prompt updated successfully.\n", id)
			return nil
		},
	}
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}
