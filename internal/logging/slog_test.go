package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// records decodes JSON log lines.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "json", &buf)
	ctx := context.Background()

	log.Debug(ctx, "probe", "online", false)
	log.Info(ctx, "pass finished", "synced", 2)
	log.Warn(ctx, "item gave up", "item", "q1")
	log.Error(ctx, "pass aborted", "error", "disk full")

	recs := records(t, &buf)
	require.Len(t, recs, 4)
	for i, want := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		assert.Equal(t, want, recs[i]["level"])
	}
	assert.Equal(t, "pass finished", recs[1]["msg"])
	assert.EqualValues(t, 2, recs[1]["synced"])
	assert.Equal(t, "disk full", recs[3]["error"])
}

func TestSlogLogger_WithScopesChildOnly(t *testing.T) {
	var buf bytes.Buffer
	parent := New("info", "json", &buf)
	child := parent.With("module", "syncer")

	child.Info(context.Background(), "scoped")
	parent.Info(context.Background(), "plain")

	recs := records(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "syncer", recs[0]["module"])
	assert.NotContains(t, recs[1], "module")
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New("info", "text", &buf).Info(context.Background(), "hello", "k", "v")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestNew_AutoFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	New("info", "auto", &buf).Info(context.Background(), "hello")

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", recs[0]["msg"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)

	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept")

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0]["msg"])
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().With("module", "x").Error(context.TODO(), "nothing")
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}
