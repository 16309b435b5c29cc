package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/db"
	"github.com/ccsched/ccsched/internal/task/api"
	"github.com/ccsched/ccsched/internal/task/models"
	"github.com/ccsched/ccsched/internal/task/repository"
)

func newTestClient(t *testing.T) (*Client, *repository.Store) {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	store, err := repository.New(conn, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := httptest.NewServer(api.NewRouter(store, logger.Default()))
	t.Cleanup(srv.Close)

	return &Client{baseURL: srv.URL, http: srv.Client()}, store
}

func TestClientRoundTrip(t *testing.T) {
	c, store := newTestClient(t)
	ctx := context.Background()

	id, err := c.Submit(ctx, &models.CreateTaskRequest{
		Name: "job", Prompt: "do it", Cwd: "/srv/repo",
	})
	require.NoError(t, err)

	tasks, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, "/srv/repo", tasks[0].Cwd)

	detail, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "do it", detail.Prompt)

	require.NoError(t, c.Rename(ctx, id, "renamed"))
	require.NoError(t, c.Edit(ctx, id, "do it better"))

	detail, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", detail.Name)
	assert.Equal(t, "do it better", detail.Prompt)

	sid := "sess-c"
	require.NoError(t, store.UpdateStatus(ctx, id, models.StatusRunning, &sid, nil))
	info, err := c.GetBySession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)

	require.NoError(t, c.Delete(ctx, id))
	err = c.Delete(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestClientSubmitValidationError(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Submit(context.Background(), &models.CreateTaskRequest{
		Name: "x", Prompt: "p", Cwd: "/tmp", DependsOn: []int64{1234},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRenderList(t *testing.T) {
	resume := time.Now().UTC().Add(30 * time.Minute)
	tasks := []models.TaskInfo{
		{ID: 1, Name: "build", Status: models.StatusDone},
		{ID: 2, Name: "deploy with a very long task name that will be truncated somewhere", Status: models.StatusPending},
		{ID: 3, Name: "limited", Status: models.StatusWaiting, ResumeAt: &resume},
	}

	var buf bytes.Buffer
	RenderList(&buf, tasks, false)
	out := buf.String()

	assert.Contains(t, out, "build")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "rate limited, resumes in")

	buf.Reset()
	RenderList(&buf, nil, false)
	assert.Contains(t, buf.String(), "No tasks found.")
}

func TestRenderDetail(t *testing.T) {
	result := "the answer"
	task := &models.TaskDetail{
		ID: 7, Name: "job", Prompt: "prompt text", Cwd: "/tmp",
		Status: models.StatusDone, SubmittedAt: time.Now().UTC(), Result: &result,
	}

	var buf bytes.Buffer
	RenderDetail(&buf, task)
	out := buf.String()

	assert.Contains(t, out, "prompt text")
	assert.Contains(t, out, "the answer")
	assert.Contains(t, out, "/tmp")
}
