package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/ccsched/ccsched/internal/common/errors"
	"github.com/ccsched/ccsched/internal/common/logger"
)

// maxLineSize bounds a single stream-json line. Tool results can get large.
const maxLineSize = 10 * 1024 * 1024

// RunRequest describes a single agent invocation.
type RunRequest struct {
	TaskID  int64
	Prompt  string
	Cwd     string
	LogPath string

	// SessionID, when set, resumes an existing agent conversation.
	SessionID *string

	// OnSessionID is called for every session_id observed on the stream, in
	// order. The store persists each one so a crash mid-run still leaves a
	// resumable session behind. May be nil.
	OnSessionID func(sessionID string)
}

// RunResult is the outcome of one agent invocation.
type RunResult struct {
	// Success is true when the process exited cleanly and its final result
	// record has subtype "success" and is_error false.
	Success bool

	// SessionID is the first session id observed on the stream, if any.
	SessionID *string

	// Output is every stdout line joined by newlines.
	Output string

	// RateLimitTimestamp is the epoch-seconds reset instant when the run hit
	// the upstream usage limit, nil otherwise.
	RateLimitTimestamp *int64
}

// Runner spawns the Claude Code CLI and consumes its stream-json output.
type Runner struct {
	claudePath string
	extraEnv   map[string]string
	logger     *logger.Logger
}

// NewRunner creates a runner for the given CLI path. A relative path
// containing a separator is resolved against the process working directory;
// a bare name goes through PATH lookup at spawn time.
func NewRunner(claudePath string, extraEnv map[string]string, log *logger.Logger) *Runner {
	return &Runner{
		claudePath: resolveClaudePath(claudePath),
		extraEnv:   extraEnv,
		logger:     log.WithFields(zap.String("component", "claudecode-runner")),
	}
}

func resolveClaudePath(path string) string {
	if filepath.IsAbs(path) || !strings.ContainsRune(path, os.PathSeparator) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Run executes one agent invocation to completion. The prompt is piped on
// stdin; every raw stdout and stderr line is appended to the per-task log
// before any parsing, so the log stays faithful even for malformed lines.
//
// A non-zero exit is not an error here, it is a RunResult with Success false.
// Only spawn and plumbing failures return an error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	log := r.logger.WithTaskID(req.TaskID)

	args := []string{"--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"}
	if req.SessionID != nil {
		args = append(args, "-r", *req.SessionID)
	}

	cmd := exec.CommandContext(ctx, r.claudePath, args...)
	cmd.Dir = req.Cwd
	cmd.Env = os.Environ()
	for k, v := range r.extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.IO("failed to open agent stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.IO("failed to open agent stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.IO("failed to open agent stderr", err)
	}

	logFile, err := os.OpenFile(req.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperrors.IO("failed to open task log", err)
	}
	defer logFile.Close()

	log.Info("starting agent",
		zap.String("claude_path", r.claudePath),
		zap.String("cwd", req.Cwd),
		zap.Bool("resume", req.SessionID != nil))

	if err := cmd.Start(); err != nil {
		return nil, apperrors.AgentExecution(fmt.Sprintf("failed to spawn agent: %v", err))
	}

	go func() {
		_, _ = io.WriteString(stdin, req.Prompt)
		_ = stdin.Close()
	}()

	var (
		lines      []string
		sessionID  *string
		lastResult *StreamMessage
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		r.appendLogLine(logFile, log, line)
		lines = append(lines, line)

		var msg StreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.SessionID != "" {
			echoSessionID(msg.SessionID)
			if sessionID == nil {
				sid := msg.SessionID
				sessionID = &sid
			}
			if req.OnSessionID != nil {
				req.OnSessionID(msg.SessionID)
			}
		}
		if msg.Type == MessageTypeResult {
			last := msg
			lastResult = &last
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error("agent stdout read failed", zap.Error(err))
	}

	// stderr is log-only and drained after stdout so the transcript keeps the
	// stream-json lines contiguous.
	errScanner := bufio.NewScanner(stderr)
	errScanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for errScanner.Scan() {
		r.appendLogLine(logFile, log, errScanner.Text())
	}

	waitErr := cmd.Wait()
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, apperrors.AgentExecution(fmt.Sprintf("failed to wait for agent: %v", waitErr))
	}

	result := &RunResult{
		SessionID: sessionID,
		Output:    strings.Join(lines, "\n"),
	}
	result.Success = waitErr == nil &&
		lastResult != nil &&
		lastResult.Subtype == SubtypeSuccess &&
		!lastResult.IsError

	if ts, ok := ParseRateLimit(lastResult); ok {
		result.RateLimitTimestamp = &ts
	}

	log.Info("agent finished",
		zap.Bool("success", result.Success),
		zap.Bool("rate_limited", result.RateLimitTimestamp != nil),
		zap.Int("stdout_lines", len(lines)))
	return result, nil
}

// appendLogLine writes one raw line to the per-task log. Log writes are best
// effort; a failure must not abort the run.
func (r *Runner) appendLogLine(f *os.File, log *logger.Logger, line string) {
	if _, err := f.WriteString(line + "\n"); err != nil {
		log.Warn("failed to append task log line", zap.Error(err))
	}
}

// echoSessionID surfaces every observed session id on the daemon's own stdout
// as single-line JSON, so operators tailing the process can resume manually.
func echoSessionID(sessionID string) {
	out, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return
	}
	fmt.Println(string(out))
}
