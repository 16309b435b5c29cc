package worker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/db"
	"github.com/ccsched/ccsched/internal/task/models"
	"github.com/ccsched/ccsched/internal/task/repository"
	"github.com/ccsched/ccsched/pkg/claudecode"
)

// fakeRunner plays back scripted results, one per invocation.
type fakeRunner struct {
	calls   []claudecode.RunRequest
	results []*claudecode.RunResult
	errs    []error
}

func (f *fakeRunner) Run(_ context.Context, req claudecode.RunRequest) (*claudecode.RunResult, error) {
	i := len(f.calls)
	f.calls = append(f.calls, req)
	if i >= len(f.results) {
		panic("fakeRunner: unexpected invocation")
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	store, err := repository.New(conn, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func claimedTask(t *testing.T, store *repository.Store) *models.Task {
	t.Helper()
	_, err := store.CreateTask(context.Background(), &models.CreateTaskRequest{
		Name: "job", Prompt: "build the feature", Cwd: "/tmp",
	})
	require.NoError(t, err)
	task, err := store.ClaimNextReady(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func newTestWorker(store *repository.Store, runner Runner, rateLimit chan time.Time) *Worker {
	tasks := make(chan *models.Task, 1)
	return New(store, runner, NewPauseState(), tasks, rateLimit, Config{MaxVerifications: 3}, logger.Default())
}

func sid(s string) *string { return &s }

func success(session, output string) *claudecode.RunResult {
	return &claudecode.RunResult{Success: true, SessionID: sid(session), Output: output}
}

func TestExecuteVerificationSecondPass(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	runner := &fakeRunner{results: []*claudecode.RunResult{
		success("s1", "draft1"),
		success("s1", "intermediate answer X"),
		success("s1", "all requirements met\n"+SuccessSentinel),
	}}
	w := newTestWorker(store, runner, make(chan time.Time, 10))

	require.NoError(t, w.executeTask(context.Background(), task))

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, "s1", *got.SessionID)
	require.NotNil(t, got.Output)
	assert.Contains(t, *got.Output, SuccessSentinel)
	require.NotNil(t, got.Result)
	assert.Equal(t, "intermediate answer X", *got.Result)

	// Verification passes resume the initial session and append the sentinel
	// instruction to the original prompt.
	require.Len(t, runner.calls, 3)
	assert.Nil(t, runner.calls[0].SessionID)
	require.NotNil(t, runner.calls[1].SessionID)
	assert.Equal(t, "s1", *runner.calls[1].SessionID)
	assert.True(t, strings.HasPrefix(runner.calls[1].Prompt, "build the feature\n\n"))
	assert.Contains(t, runner.calls[1].Prompt, SuccessSentinel)
	assert.Contains(t, runner.calls[1].Prompt, FailureSentinel)
}

func TestExecuteVerificationExhaustion(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	runner := &fakeRunner{results: []*claudecode.RunResult{
		success("s1", "draft"),
		success("s1", "pass one, still going"),
		success("s1", "pass two, still going"),
		success("s1", "pass three, still going"),
	}}
	w := newTestWorker(store, runner, make(chan time.Time, 10))

	err := w.executeTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrVerificationExhausted)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Output)
	assert.Equal(t, "pass three, still going", *got.Output)
	assert.Nil(t, got.Result)
}

func TestExecuteFailureSentinel(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	runner := &fakeRunner{results: []*claudecode.RunResult{
		success("s1", "draft"),
		success("s1", "partial analysis X"),
		success("s1", "cannot proceed\n"+FailureSentinel),
	}}
	w := newTestWorker(store, runner, make(chan time.Time, 10))

	err := w.executeTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrTaskReportedFailure)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Output)
	assert.Contains(t, *got.Output, FailureSentinel)
	// As on the Done path, the previous iteration's work result is kept; the
	// sentinel pass is not.
	require.NotNil(t, got.Result)
	assert.Equal(t, "partial analysis X", *got.Result)
}

func TestExecuteNoSession(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	runner := &fakeRunner{results: []*claudecode.RunResult{
		{Success: true, Output: "no session anywhere"},
	}}
	w := newTestWorker(store, runner, make(chan time.Time, 10))

	err := w.executeTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrNoSession)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestExecuteInitialRunFailure(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	runner := &fakeRunner{results: []*claudecode.RunResult{
		{Success: false, SessionID: sid("s1"), Output: "blew up"},
	}}
	w := newTestWorker(store, runner, make(chan time.Time, 10))

	err := w.executeTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrAgentExecution)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	// The session from the failed run is still persisted for diagnosis.
	require.NotNil(t, got.SessionID)
	assert.Equal(t, "s1", *got.SessionID)
}

func TestExecuteRateLimit(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	reset := time.Now().UTC().Add(10 * time.Minute).Truncate(time.Second)
	ts := reset.Unix()
	runner := &fakeRunner{results: []*claudecode.RunResult{
		{Success: false, SessionID: sid("s1"), Output: "limited", RateLimitTimestamp: &ts},
	}}
	rateLimit := make(chan time.Time, 10)
	w := newTestWorker(store, runner, rateLimit)

	require.NoError(t, w.executeTask(context.Background(), task))

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	require.NotNil(t, got.ResumeAt)
	assert.True(t, got.ResumeAt.Equal(reset), "resume_at %v != %v", got.ResumeAt, reset)
	assert.Nil(t, got.FinishedAt)

	select {
	case instant := <-rateLimit:
		assert.True(t, instant.Equal(reset))
	default:
		t.Fatal("expected a rate limit signal")
	}
}

func TestExecuteRateLimitBadTimestampFallsBack(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	ts := int64(-5)
	runner := &fakeRunner{results: []*claudecode.RunResult{
		{Success: false, SessionID: sid("s1"), Output: "limited", RateLimitTimestamp: &ts},
	}}
	w := newTestWorker(store, runner, make(chan time.Time, 10))

	require.NoError(t, w.executeTask(context.Background(), task))

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	require.NotNil(t, got.ResumeAt)
	remaining := time.Until(*got.ResumeAt)
	assert.Greater(t, remaining, 50*time.Minute)
	assert.LessOrEqual(t, remaining, time.Hour)
}

func TestRunRequeuesWhilePaused(t *testing.T) {
	store := newTestStore(t)
	task := claimedTask(t, store)

	runner := &fakeRunner{}
	tasks := make(chan *models.Task, 1)
	pause := NewPauseState()
	until := time.Now().UTC().Add(time.Hour)
	pause.Set(&until)

	// Simulate a task claimed out of Waiting with a resume instant still set.
	resumeAt := time.Now().UTC().Add(30 * time.Minute)
	require.NoError(t, store.UpdateStatusWithResumeAt(
		context.Background(), task.ID, models.StatusRunning, nil, nil, &resumeAt))

	w := New(store, runner, pause, tasks, make(chan time.Time, 10), Config{}, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	tasks <- task
	require.Eventually(t, func() bool {
		got, err := store.GetTask(context.Background(), task.ID)
		return err == nil && got.Status == models.StatusPending && got.ResumeAt == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, runner.calls)
}

func TestExtractWorkResult(t *testing.T) {
	res := ExtractWorkResult(`{"type":"assistant"}` + "\n" +
		`{"type":"result","subtype":"success","is_error":false,"result":"  the answer  "}`)
	require.NotNil(t, res)
	assert.Equal(t, "the answer", *res)

	// Sentinel-bearing result records are skipped in favor of earlier ones.
	res = ExtractWorkResult(`{"type":"result","result":"real work"}` + "\n" +
		`{"type":"result","result":"` + SuccessSentinel + `"}`)
	require.NotNil(t, res)
	assert.Equal(t, "real work", *res)

	// Fallback: last plain line that is not an unparsed record.
	res = ExtractWorkResult("{broken json\nplain answer line\n")
	require.NotNil(t, res)
	assert.Equal(t, "plain answer line", *res)

	assert.Nil(t, ExtractWorkResult(""))
	assert.Nil(t, ExtractWorkResult(`{"type":"result","result":""}`))
	assert.Nil(t, ExtractWorkResult(SuccessSentinel))
}
