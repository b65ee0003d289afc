package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	herdlog "github.com/distrobot/herd/internal/log"
)

func TestContextHandler_AddsContextAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(herdlog.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := herdlog.ContextAttrs(context.Background(), slog.String("worker_id", "pod-1"))
	ctx = herdlog.ContextAttrs(ctx, slog.String("attempt_id", "a-1"))

	logger.InfoContext(ctx, "item finished", "outcome", "completed")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "item finished", rec["msg"])
	require.Equal(t, "pod-1", rec["worker_id"])
	require.Equal(t, "a-1", rec["attempt_id"])
	require.Equal(t, "completed", rec["outcome"])
}

func TestContextHandler_PlainContextPassesThrough(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(herdlog.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.NotContains(t, rec, "worker_id")
}
