package client

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ccsched/ccsched/internal/task/models"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func formatStatus(s models.TaskStatus) string {
	switch s {
	case models.StatusPending:
		return yellow("pending")
	case models.StatusRunning:
		return cyan("running")
	case models.StatusDone:
		return green("done")
	case models.StatusFailed:
		return red("failed")
	case models.StatusWaiting:
		return yellow("waiting")
	default:
		return s.String()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}

// RenderList prints the task table. The detail flag adds timestamps and
// session ids. Waiting tasks get a trailing note with the minutes remaining
// until their resume instant.
func RenderList(w io.Writer, tasks []models.TaskInfo, detail bool) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found.")
		return
	}

	if detail {
		fmt.Fprintf(w, "%-4s %-25s %-11s %-20s %-20s %-36s\n",
			"ID", "Name", "Status", "Submitted", "Finished", "Session ID")
		fmt.Fprintln(w, gray(strings.Repeat("-", 125)))
		for _, task := range tasks {
			session := "-"
			if task.SessionID != nil {
				session = *task.SessionID
			}
			fmt.Fprintf(w, "%-4d %-25s %-20s %-20s %-20s %-36s\n",
				task.ID,
				truncate(task.Name, 25),
				formatStatus(task.Status),
				task.SubmittedAt.Format(timeLayout),
				formatTimePtr(task.FinishedAt),
				truncate(session, 36))
		}
	} else {
		fmt.Fprintf(w, "%-4s %-40s %-10s\n", "ID", "Name", "Status")
		fmt.Fprintln(w, gray(strings.Repeat("-", 56)))
		for _, task := range tasks {
			fmt.Fprintf(w, "%-4d %-40s %-10s\n",
				task.ID, truncate(task.Name, 40), formatStatus(task.Status))
		}
	}

	renderWaitingInfo(w, tasks)
}

func renderWaitingInfo(w io.Writer, tasks []models.TaskInfo) {
	now := time.Now().UTC()
	printedHeader := false
	for _, task := range tasks {
		if task.Status != models.StatusWaiting {
			continue
		}
		if !printedHeader {
			fmt.Fprintln(w, "\n"+yellow("Waiting tasks:"))
			printedHeader = true
		}
		switch {
		case task.ResumeAt == nil:
			fmt.Fprintf(w, "  task %d is waiting (reason unknown)\n", task.ID)
		case task.ResumeAt.After(now):
			minutes := int(task.ResumeAt.Sub(now).Minutes())
			fmt.Fprintf(w, "  task %d is rate limited, resumes in %d minutes\n", task.ID, minutes)
		default:
			fmt.Fprintf(w, "  task %d is ready to resume\n", task.ID)
		}
	}
}

// RenderDetail prints the full view of a single task.
func RenderDetail(w io.Writer, task *models.TaskDetail) {
	fmt.Fprintln(w, bold("Task Details"))
	fmt.Fprintln(w, gray("============"))
	fmt.Fprintf(w, "ID:        %d\n", task.ID)
	fmt.Fprintf(w, "Name:      %s\n", task.Name)
	fmt.Fprintf(w, "Cwd:       %s\n", task.Cwd)
	fmt.Fprintf(w, "Status:    %s\n", formatStatus(task.Status))
	fmt.Fprintf(w, "Submitted: %s UTC\n", task.SubmittedAt.Format(timeLayout))
	if task.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:  %s UTC\n", task.FinishedAt.Format(timeLayout))
	}
	if task.SessionID != nil {
		fmt.Fprintf(w, "Session:   %s\n", *task.SessionID)
	}
	if task.ResumeAt != nil {
		fmt.Fprintf(w, "Resume At: %s UTC\n", task.ResumeAt.Format(timeLayout))
	}

	fmt.Fprintln(w, "\n"+bold("Prompt"))
	fmt.Fprintln(w, gray("------"))
	fmt.Fprintln(w, task.Prompt)

	if task.Result != nil {
		fmt.Fprintln(w, "\n"+bold("Result"))
		fmt.Fprintln(w, gray("------"))
		fmt.Fprintln(w, *task.Result)
	}
}

