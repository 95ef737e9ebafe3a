package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// ParseSSEData parses a data-only Server-Sent Events stream into one string
// per event.
//
// The chat stream emits only "data:" frames, so the parser enforces that
// shape:
//   - Multiple "data:" lines in one event are joined with newline (W3C SSE)
//   - An empty line terminates the event
//   - Comment lines starting with ":" are ignored
//   - Any other line fails the test
//
// Example:
//
//	payloads := testutil.ParseSSEData(t, body)
//	if payloads[len(payloads)-1] != "[DONE]" { ... }
func ParseSSEData(t *testing.T, body string) []string {
	t.Helper()

	var payloads []string
	var dataLines []string
	lineNum := 0

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))

		case line == "data:" || line == "data: ":
			// Empty data line is valid SSE; contributes an empty string.
			dataLines = append(dataLines, "")

		case line == "":
			if len(dataLines) > 0 {
				payloads = append(payloads, strings.Join(dataLines, "\n"))
				dataLines = nil
			}

		case strings.HasPrefix(line, ":"):
			// comment, ignore

		default:
			t.Fatalf("SSE parse error at line %d: unexpected line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("SSE scan error: %v", err)
	}

	if len(dataLines) > 0 {
		t.Fatalf("SSE stream ended mid-event: unterminated data %q", strings.Join(dataLines, "\n"))
	}

	return payloads
}
