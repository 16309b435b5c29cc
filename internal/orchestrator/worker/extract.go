package worker

import (
	"encoding/json"
	"strings"

	"github.com/ccsched/ccsched/pkg/claudecode"
)

// ExtractWorkResult pulls the agent's substantive answer out of a run
// transcript. It scans the lines in reverse for the newest result record
// whose result string is non-empty and free of verification sentinels.
//
// When no structured record qualifies, it falls back to the last plain text
// line, skipping anything that looks like an unparsed JSON record.
func ExtractWorkResult(output string) *string {
	lines := strings.Split(output, "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		var msg claudecode.StreamMessage
		if err := json.Unmarshal([]byte(lines[i]), &msg); err != nil {
			continue
		}
		if msg.Type != claudecode.MessageTypeResult {
			continue
		}
		s := strings.TrimSpace(msg.ResultString())
		if s == "" || containsSentinel(s) {
			continue
		}
		return &s
	}

	for i := len(lines) - 1; i >= 0; i-- {
		s := strings.TrimSpace(lines[i])
		if s == "" || strings.HasPrefix(s, "{") || strings.Contains(s, `"type"`) || containsSentinel(s) {
			continue
		}
		return &s
	}

	return nil
}

func containsSentinel(s string) bool {
	return strings.Contains(s, SuccessSentinel) || strings.Contains(s, FailureSentinel)
}
