package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"Debug level", "DEBUG", zerolog.DebugLevel},
		{"Info level", "INFO", zerolog.InfoLevel},
		{"Warn level", "WARN", zerolog.WarnLevel},
		{"Warning alias", "warning", zerolog.WarnLevel},
		{"Error level", "ERROR", zerolog.ErrorLevel},
		{"Trace level", "trace", zerolog.TraceLevel},
		{"Empty defaults to Info", "", zerolog.InfoLevel},
		{"Invalid defaults to Info", "INVALID", zerolog.InfoLevel},
		{"Case insensitive", "debug", zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}

func TestLogLevels(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	tests := []struct {
		name      string
		setLevel  string
		emit      func(l zerolog.Logger)
		shouldLog bool
	}{
		{"Debug logs when Debug", "DEBUG", func(l zerolog.Logger) { l.Debug().Msg("debug message") }, true},
		{"Debug doesn't log when Info", "INFO", func(l zerolog.Logger) { l.Debug().Msg("debug message") }, false},
		{"Info logs when Info", "INFO", func(l zerolog.Logger) { l.Info().Msg("info message") }, true},
		{"Info doesn't log when Error", "ERROR", func(l zerolog.Logger) { l.Info().Msg("info message") }, false},
		{"Error logs when Debug", "DEBUG", func(l zerolog.Logger) { l.Error().Msg("error message") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetupWriter(&buf, tt.setLevel, false)

			tt.emit(For("TEST"))

			output := strings.TrimSpace(buf.String())
			assert.Equal(t, tt.shouldLog, output != "", "unexpected output: %q", output)
		})
	}
}

func TestForAddsComponent(t *testing.T) {
	prevLogger := log.Logger
	t.Cleanup(func() { log.Logger = prevLogger })

	var buf bytes.Buffer
	SetupWriter(&buf, "INFO", false)

	relayLogger := For(RELAY)
	relayLogger.Info().Str("agent_id", "a1").Msg("relay started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, RELAY, entry["component"])
	assert.Equal(t, "a1", entry["agent_id"])
	assert.Equal(t, "relay started", entry["message"])
	assert.Equal(t, "info", entry["level"])
}
