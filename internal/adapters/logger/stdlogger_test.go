package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestStdLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "debug line")
	l.Info(ctx, "info line")
	l.Warn(ctx, "warn line")
	l.Error(ctx, errors.New("boom"), "error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error line | error: boom")
}

func TestStdLogger_SortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelDebug)

	l.Info(context.Background(), "Tick: Stop moved", map[string]interface{}{"symbol": "SOLUSDC", "new": 104.5, "old": 95.0})
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "[INFO] Tick: Stop moved | new=104.5 old=95 symbol=SOLUSDC"))

	buf.Reset()
	l.Info(context.Background(), "merged", map[string]interface{}{"b": 2}, map[string]interface{}{"a": 1})
	assert.Contains(t, buf.String(), "| a=1 b=2")

	buf.Reset()
	l.Info(context.Background(), "no fields")
	assert.NotContains(t, buf.String(), "|")
}

func TestStdLogger_WithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelInfo).WithPrefix("[discovery]")
	l.Info(context.Background(), "scan done")
	assert.True(t, strings.HasPrefix(buf.String(), "[discovery] "))
}
