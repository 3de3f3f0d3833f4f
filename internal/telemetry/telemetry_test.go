package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/knoguchi/agentic-rag/internal/ragmodel"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogEventLevelsByType(t *testing.T) {
	cases := []struct {
		eventType ragmodel.EventType
		wantLevel string
	}{
		{ragmodel.EventError, "ERROR"},
		{ragmodel.EventWarning, "WARN"},
		{ragmodel.EventNodeStart, "DEBUG"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := newTestLogger(&buf)
		LogEvent(logger, "thread-1", ragmodel.Event{EventType: tc.eventType, Node: "retrieve"})

		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("failed to parse log line: %v", err)
		}
		if record["level"] != tc.wantLevel {
			t.Errorf("event type %v: level = %v, want %v", tc.eventType, record["level"], tc.wantLevel)
		}
		if record["thread_id"] != "thread-1" {
			t.Errorf("expected thread_id field, got %v", record["thread_id"])
		}
	}
}

func TestLogRequestSummaryIncludesErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	LogRequestSummary(logger, "thread-1", time.Now(), 2, ragmodel.ContextMetadata{ModelName: "test-model"}, errUnavailable)

	if !strings.Contains(buf.String(), "unavailable") {
		t.Errorf("expected error message in log output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected ERROR level when err is non-nil, got %q", buf.String())
	}
}

func TestLogRequestSummarySuccessIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	LogRequestSummary(logger, "thread-1", time.Now(), 0, ragmodel.ContextMetadata{ModelName: "test-model"}, nil)

	if !strings.Contains(buf.String(), `"level":"INFO"`) {
		t.Errorf("expected INFO level on success, got %q", buf.String())
	}
}

var errUnavailable = fakeErr("service unavailable")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
