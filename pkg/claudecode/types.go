// Package claudecode runs the Claude Code CLI as a subprocess and parses its
// stream-json output. The CLI emits one self-contained JSON object per stdout
// line; the terminal record has type "result".
package claudecode

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message types emitted by the CLI.
const (
	MessageTypeSystem    = "system"
	MessageTypeAssistant = "assistant"
	MessageTypeResult    = "result"
)

// SubtypeSuccess marks a result record for a run that completed normally.
const SubtypeSuccess = "success"

// RateLimitPrefix starts the result string of an is_error result emitted when
// the upstream usage limit is hit. The suffix is the reset instant in Unix
// epoch seconds.
const RateLimitPrefix = "Claude AI usage limit reached|"

// StreamMessage is one line of the CLI's stream-json output. Only the fields
// the scheduler cares about are modeled; Result stays raw because the CLI
// emits it as a string for errors and as text for normal completions.
type StreamMessage struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ResultString returns the result field when it is a JSON string, or "".
func (m *StreamMessage) ResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		return ""
	}
	return s
}

// ParseRateLimit inspects a result record for the usage-limit sentinel and
// returns the reset instant as epoch seconds. The second return is false when
// the record is not a rate-limit signal or its timestamp does not parse.
func ParseRateLimit(m *StreamMessage) (int64, bool) {
	if m == nil || m.Type != MessageTypeResult || !m.IsError {
		return 0, false
	}
	s := m.ResultString()
	if !strings.HasPrefix(s, RateLimitPrefix) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(s, RateLimitPrefix)), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
