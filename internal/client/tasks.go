package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ccsched/ccsched/internal/task/models"
)

// Submit creates a new task and returns its id.
func (c *Client) Submit(ctx context.Context, req *models.CreateTaskRequest) (int64, error) {
	var resp models.CreateTaskResponse
	if err := c.do(ctx, http.MethodPost, "/submit", req, &resp); err != nil {
		return 0, err
	}
	return resp.TaskID, nil
}

// List fetches all tasks.
func (c *Client) List(ctx context.Context) ([]models.TaskInfo, error) {
	var resp models.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Get fetches one task including its prompt and result.
func (c *Client) Get(ctx context.Context, id int64) (*models.TaskDetail, error) {
	var detail models.TaskDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/task/%d", id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetBySession resolves a session id to its task.
func (c *Client) GetBySession(ctx context.Context, sessionID string) (*models.TaskInfo, error) {
	var info models.TaskInfo
	path := "/task/session/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Delete removes a task.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/task/%d", id), nil, nil)
}

// Rename changes a task's display name.
func (c *Client) Rename(ctx context.Context, id int64, name string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/task/%d/rename", id),
		models.RenameTaskRequest{Name: name}, nil)
}

// Edit replaces a task's prompt. On a finished task the server also requeues
// it.
func (c *Client) Edit(ctx context.Context, id int64, prompt string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/task/%d/edit", id),
		models.EditTaskRequest{Prompt: prompt}, nil)
}
