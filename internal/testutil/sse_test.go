package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseSSEDataBasic(t *testing.T) {
	t.Parallel()
	body := "data: Hello\n\ndata: world\n\ndata: [DONE]\n\n"

	payloads := ParseSSEData(t, body)

	want := []string{"Hello", "world", "[DONE]"}
	if diff := cmp.Diff(want, payloads); diff != "" {
		t.Errorf("payloads mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSSEDataMultilinePayload(t *testing.T) {
	t.Parallel()
	// A payload containing newlines is split across data: lines on the wire
	// and must reassemble with the newlines restored.
	body := "data: Line1\ndata: Line2\ndata: Line3\n\ndata: [DONE]\n\n"

	payloads := ParseSSEData(t, body)

	want := []string{"Line1\nLine2\nLine3", "[DONE]"}
	if diff := cmp.Diff(want, payloads); diff != "" {
		t.Errorf("payloads mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSSEDataComments(t *testing.T) {
	t.Parallel()
	body := ": keep-alive\ndata: Hello\n\n"

	payloads := ParseSSEData(t, body)

	if len(payloads) != 1 || payloads[0] != "Hello" {
		t.Errorf("payloads = %v, want [Hello]", payloads)
	}
}

func TestParseSSEDataEmpty(t *testing.T) {
	t.Parallel()
	if got := ParseSSEData(t, ""); len(got) != 0 {
		t.Errorf("empty body parsed to %v, want no payloads", got)
	}
}
