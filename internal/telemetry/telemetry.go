// Package telemetry provides the structured JSON logging used across
// the service, plus helpers that turn pipeline events and request
// summaries into log records with a stable field vocabulary.
package telemetry

import (
	"log/slog"
	"os"
	"time"

	"github.com/knoguchi/agentic-rag/internal/ragmodel"
)

// NewLogger builds the process-wide JSON logger. Level is one of
// "debug", "info", "warn", "error"; anything else falls back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// LogEvent records one pipeline event at the level appropriate to its
// type: errors at Error, warnings at Warn, everything else at Debug so
// production logs aren't dominated by per-node chatter.
func LogEvent(logger *slog.Logger, threadID string, ev ragmodel.Event) {
	attrs := []any{
		"thread_id", threadID,
		"event_type", string(ev.EventType),
		"node", ev.Node,
	}
	for k, v := range ev.Data {
		attrs = append(attrs, k, v)
	}

	switch ev.EventType {
	case ragmodel.EventError:
		logger.Error("pipeline event", attrs...)
	case ragmodel.EventWarning:
		logger.Warn("pipeline event", attrs...)
	default:
		logger.Debug("pipeline event", attrs...)
	}
}

// LogRequestSummary records one line per completed request with the
// fields an operator dashboards on: latency, retries, confidence, and
// whether output validation passed.
func LogRequestSummary(logger *slog.Logger, threadID string, start time.Time, retryCount int, metadata ragmodel.ContextMetadata, err error) {
	attrs := []any{
		"thread_id", threadID,
		"duration_ms", time.Since(start).Milliseconds(),
		"retry_count", retryCount,
		"model", metadata.ModelName,
		"tokens_input", metadata.TokensInput,
		"tokens_output", metadata.TokensOutput,
		"context_usage_percent", metadata.ContextUsagePercent,
		"confidence_score", metadata.ConfidenceScore,
		"validation_passed", metadata.ValidationPassed,
		"documents_included", metadata.DocumentsIncluded,
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		logger.Error("request completed", attrs...)
		return
	}
	logger.Info("request completed", attrs...)
}
