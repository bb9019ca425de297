package logging

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error %d", 1)
			logger.Warnf("warn %d", 2)
			logger.Infof("info %d", 3)
			logger.Debugf("debug %d", 4)

			output := buf.String()
			assert.Equal(t, tt.wantError, strings.Contains(output, "ERROR error 1"))
			assert.Equal(t, tt.wantWarn, strings.Contains(output, "WARN warn 2"))
			assert.Equal(t, tt.wantInfo, strings.Contains(output, "INFO info 3"))
			assert.Equal(t, tt.wantDebug, strings.Contains(output, "DEBUG debug 4"))
		})
	}
}

func TestDefaultLogger_FatalCallsHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	var got atomic.Value
	logger.SetFatalHandler(func(msg string) { got.Store(msg) })

	logger.Fatalf(NSVacuum+"chain cycle at %s", "abc")

	assert.Contains(t, buf.String(), "FATAL [vacuum] chain cycle at abc")
	assert.Equal(t, "[vacuum] chain cycle at abc", got.Load())
}

func TestDefaultLogger_FatalWithoutHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	require.NotPanics(t, func() { logger.Fatalf("boom") })
	assert.Contains(t, buf.String(), "FATAL boom")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"warning", LevelWarn, false},
		{" info ", LevelInfo, false},
		{"Debug", LevelDebug, false},
		{"verbose", LevelWarn, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestIsNilAndOrDefault(t *testing.T) {
	var typedNil *DefaultLogger
	assert.True(t, IsNil(nil))
	assert.True(t, IsNil(typedNil))
	assert.False(t, IsNil(Discard))

	assert.NotNil(t, OrDefault(typedNil))
	assert.Same(t, Discard, OrDefault(Discard))
}

func TestDiscardLogger(t *testing.T) {
	require.NotPanics(t, func() {
		Discard.Errorf("x")
		Discard.Warnf("x")
		Discard.Infof("x")
		Discard.Debugf("x")
		Discard.Fatalf("x")
	})
}
