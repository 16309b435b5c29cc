package claudecode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccsched/ccsched/internal/common/logger"
)

// writeFakeAgent installs a shell script standing in for the Claude CLI. It
// records its argv and stdin, then prints the given stdout lines.
func writeFakeAgent(t *testing.T, dir string, exitCode int, stdoutLines ...string) string {
	t.Helper()
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > \"$FAKE_AGENT_ARGS\"\n" +
		"cat > \"$FAKE_AGENT_STDIN\"\n"
	for _, line := range stdoutLines {
		script += "echo '" + line + "'\n"
	}
	script += "echo 'stderr noise' >&2\n"
	script += "exit " + strconv.Itoa(exitCode) + "\n"

	path := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestRunner(t *testing.T, dir, agentPath string) *Runner {
	t.Helper()
	return NewRunner(agentPath, map[string]string{
		"FAKE_AGENT_ARGS":  filepath.Join(dir, "args.txt"),
		"FAKE_AGENT_STDIN": filepath.Join(dir, "stdin.txt"),
	}, logger.Default())
}

func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	agent := writeFakeAgent(t, dir, 0,
		`{"type":"system","session_id":"sess-1"}`,
		`{"type":"assistant","session_id":"sess-1"}`,
		`{"type":"result","subtype":"success","is_error":false,"result":"all done"}`,
	)
	r := newTestRunner(t, dir, agent)

	var observed []string
	logPath := filepath.Join(dir, "task_1.jsonl")
	res, err := r.Run(context.Background(), RunRequest{
		TaskID:      1,
		Prompt:      "do the thing",
		Cwd:         dir,
		LogPath:     logPath,
		OnSessionID: func(sid string) { observed = append(observed, sid) },
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.SessionID)
	assert.Equal(t, "sess-1", *res.SessionID)
	assert.Nil(t, res.RateLimitTimestamp)
	assert.Contains(t, res.Output, `"result":"all done"`)
	assert.Equal(t, []string{"sess-1", "sess-1"}, observed)

	// The prompt must arrive on the agent's stdin.
	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	require.NoError(t, err)
	assert.Equal(t, "do the thing", string(stdin))

	// Raw stdout and stderr lines land in the per-task log in order.
	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), `{"type":"system","session_id":"sess-1"}`)
	assert.Contains(t, string(logData), "stderr noise")
}

func TestRunResumePassesSessionFlag(t *testing.T) {
	dir := t.TempDir()
	agent := writeFakeAgent(t, dir, 0,
		`{"type":"result","subtype":"success","is_error":false,"result":"ok"}`,
	)
	r := newTestRunner(t, dir, agent)

	sid := "sess-resume"
	_, err := r.Run(context.Background(), RunRequest{
		TaskID:    2,
		Prompt:    "continue",
		Cwd:       dir,
		LogPath:   filepath.Join(dir, "task_2.jsonl"),
		SessionID: &sid,
	})
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "-r")
	assert.Contains(t, string(args), "sess-resume")
	assert.Contains(t, string(args), "--dangerously-skip-permissions")
}

func TestRunRateLimit(t *testing.T) {
	dir := t.TempDir()
	agent := writeFakeAgent(t, dir, 1,
		`{"type":"system","session_id":"sess-rl"}`,
		`{"type":"result","subtype":"error","is_error":true,"result":"Claude AI usage limit reached|1767225600"}`,
	)
	r := newTestRunner(t, dir, agent)

	res, err := r.Run(context.Background(), RunRequest{
		TaskID:  3,
		Prompt:  "p",
		Cwd:     dir,
		LogPath: filepath.Join(dir, "task_3.jsonl"),
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.NotNil(t, res.RateLimitTimestamp)
	assert.Equal(t, int64(1767225600), *res.RateLimitTimestamp)
	require.NotNil(t, res.SessionID)
	assert.Equal(t, "sess-rl", *res.SessionID)
}

func TestRunFailureWithoutResultRecord(t *testing.T) {
	dir := t.TempDir()
	agent := writeFakeAgent(t, dir, 1, `not json at all`)
	r := newTestRunner(t, dir, agent)

	res, err := r.Run(context.Background(), RunRequest{
		TaskID:  4,
		Prompt:  "p",
		Cwd:     dir,
		LogPath: filepath.Join(dir, "task_4.jsonl"),
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Nil(t, res.SessionID)
	assert.Nil(t, res.RateLimitTimestamp)
	assert.Equal(t, "not json at all", res.Output)
}

func TestParseRateLimit(t *testing.T) {
	mk := func(isErr bool, result string) *StreamMessage {
		raw, _ := json.Marshal(result)
		return &StreamMessage{Type: MessageTypeResult, IsError: isErr, Result: raw}
	}

	ts, ok := ParseRateLimit(mk(true, "Claude AI usage limit reached|1700000000"))
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), ts)

	// Not an error result.
	_, ok = ParseRateLimit(mk(false, "Claude AI usage limit reached|1700000000"))
	assert.False(t, ok)

	// Garbage timestamp means no rate-limit signal, just an ordinary failure.
	_, ok = ParseRateLimit(mk(true, "Claude AI usage limit reached|soon"))
	assert.False(t, ok)

	_, ok = ParseRateLimit(mk(true, "some other error"))
	assert.False(t, ok)
	_, ok = ParseRateLimit(nil)
	assert.False(t, ok)
}
