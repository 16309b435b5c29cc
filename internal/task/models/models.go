// Package models defines the persistent task entity and the API data types.
package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusRunning TaskStatus = "running"
	StatusDone    TaskStatus = "done"
	StatusFailed  TaskStatus = "failed"
	StatusWaiting TaskStatus = "waiting"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

func (s TaskStatus) String() string {
	return string(s)
}

// Task is the persistent unit of work: a prompt executed by the agent in a
// working directory. SessionID is the agent-assigned conversation handle and
// survives an edit-reset so the next run can resume the prior conversation.
type Task struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Prompt      string     `db:"prompt" json:"prompt"`
	Cwd         string     `db:"cwd" json:"cwd"`
	Status      TaskStatus `db:"status" json:"status"`
	SessionID   *string    `db:"session_id" json:"session_id,omitempty"`
	SubmittedAt time.Time  `db:"submitted_at" json:"submitted_at"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Output      *string    `db:"output" json:"output,omitempty"`
	Result      *string    `db:"result" json:"result,omitempty"`
	ResumeAt    *time.Time `db:"resume_at" json:"resume_at,omitempty"`
}

// TaskDependency is a directed edge: task_id depends on depends_on_id.
type TaskDependency struct {
	TaskID      int64 `db:"task_id" json:"task_id"`
	DependsOnID int64 `db:"depends_on_id" json:"depends_on_id"`
}

// CreateTaskRequest is the POST /submit body.
type CreateTaskRequest struct {
	Name      string  `json:"name" binding:"required"`
	Prompt    string  `json:"prompt" binding:"required"`
	Cwd       string  `json:"cwd" binding:"required"`
	DependsOn []int64 `json:"depends_on"`
}

// CreateTaskResponse is the POST /submit response.
type CreateTaskResponse struct {
	TaskID int64 `json:"task_id"`
}

// RenameTaskRequest is the PUT /task/:id/rename body.
type RenameTaskRequest struct {
	Name string `json:"name" binding:"required"`
}

// EditTaskRequest is the PUT /task/:id/edit body.
type EditTaskRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// TaskInfo is the list-view projection of a task. Cwd is included so the CLI
// can resume a session in the task's working directory.
type TaskInfo struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Cwd         string     `json:"cwd"`
	Status      TaskStatus `json:"status"`
	SessionID   *string    `json:"session_id"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	ResumeAt    *time.Time `json:"resume_at"`
}

// TaskDetail is the single-task projection including prompt and outcome.
type TaskDetail struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Prompt      string     `json:"prompt"`
	Cwd         string     `json:"cwd"`
	Status      TaskStatus `json:"status"`
	SessionID   *string    `json:"session_id"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Result      *string    `json:"result"`
	ResumeAt    *time.Time `json:"resume_at"`
}

// TaskListResponse is the GET /list response.
type TaskListResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

// NewTaskInfo projects a task into its list view.
func NewTaskInfo(t *Task) TaskInfo {
	return TaskInfo{
		ID:          t.ID,
		Name:        t.Name,
		Cwd:         t.Cwd,
		Status:      t.Status,
		SessionID:   t.SessionID,
		SubmittedAt: t.SubmittedAt,
		FinishedAt:  t.FinishedAt,
		ResumeAt:    t.ResumeAt,
	}
}

// NewTaskDetail projects a task into its detail view.
func NewTaskDetail(t *Task) TaskDetail {
	return TaskDetail{
		ID:          t.ID,
		Name:        t.Name,
		Prompt:      t.Prompt,
		Cwd:         t.Cwd,
		Status:      t.Status,
		SessionID:   t.SessionID,
		SubmittedAt: t.SubmittedAt,
		FinishedAt:  t.FinishedAt,
		Result:      t.Result,
		ResumeAt:    t.ResumeAt,
	}
}
