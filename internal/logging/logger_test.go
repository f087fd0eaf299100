package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	original := defaultLogger
	t.Cleanup(func() {
		defaultLogger = original
		slog.SetDefault(original)
	})
}

func TestSetupLoggerLevels(t *testing.T) {
	restoreLogger(t)

	tests := []struct {
		name      string
		level     LogLevel
		wantDebug bool
		wantInfo  bool
	}{
		{name: "Debug level", level: LevelDebug, wantDebug: true, wantInfo: true},
		{name: "Info level", level: LevelInfo, wantInfo: true},
		{name: "Warn level", level: LevelWarn},
		{name: "Error level", level: LevelError},
		{name: "Invalid level defaults to info", level: LogLevel("chatty"), wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetupLogger(&buf, tt.level)
			require.NotNil(t, defaultLogger)

			Debug("debug trace line")
			Info("info trace line")

			output := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(output, "debug trace line"))
			assert.Equal(t, tt.wantInfo, strings.Contains(output, "info trace line"))
		})
	}
}

func TestPackageHelpersCarryAttributes(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	SetupLogger(&buf, LevelDebug)

	tests := []struct {
		name    string
		logFunc func(string, ...any)
		level   string
	}{
		{name: "Debug", logFunc: Debug, level: "DEBUG"},
		{name: "Info", logFunc: Info, level: "INFO"},
		{name: "Warn", logFunc: Warn, level: "WARN"},
		{name: "Error", logFunc: Error, level: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc("sync item processed", "project_id", 1, "incident_id", 42)

			output := buf.String()
			assert.Contains(t, output, tt.level)
			assert.Contains(t, output, "sync item processed")
			assert.Contains(t, output, "project_id=1")
			assert.Contains(t, output, "incident_id=42")
		})
	}
}

func TestSetupLoggerReplacesSlogDefault(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	SetupLogger(&buf, LevelInfo)

	assert.Same(t, defaultLogger, GetLogger())
	assert.Same(t, defaultLogger, slog.Default())
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "Empty value", input: "", want: "<not set>"},
		{name: "Short value", input: "abc", want: "<set>"},
		{name: "Boundary length", input: "abcd", want: "<set>"},
		{name: "API key", input: "2Dn5j8fk39Dkf0s", want: "2Dn5...***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSensitive(tt.input))
		})
	}
}
