package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusWaiting.Terminal())
}

func TestTaskProjections(t *testing.T) {
	sid := "sess-1"
	result := "the answer"
	now := time.Now().UTC()
	task := &Task{
		ID:          7,
		Name:        "refactor",
		Prompt:      "do the thing",
		Cwd:         "/srv/repo",
		Status:      StatusDone,
		SessionID:   &sid,
		SubmittedAt: now,
		FinishedAt:  &now,
		Result:      &result,
	}

	info := NewTaskInfo(task)
	assert.Equal(t, int64(7), info.ID)
	assert.Equal(t, StatusDone, info.Status)
	assert.Equal(t, &sid, info.SessionID)

	detail := NewTaskDetail(task)
	assert.Equal(t, "do the thing", detail.Prompt)
	assert.Equal(t, &result, detail.Result)
	assert.Equal(t, &now, detail.FinishedAt)
}
