package core

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookLine struct {
	level LogLevel
	tag   string
	msg   string
}

func captured(l *Logger) *[]hookLine {
	lines := &[]hookLine{}
	l.SetHook(func(level LogLevel, tag, msg string) {
		*lines = append(*lines, hookLine{level, tag, msg})
	})
	return lines
}

func TestComponentLevels(t *testing.T) {
	l := NewLogger(LogConfig{Level: "warn", Components: map[string]string{"Manager": "debug"}})
	var buf bytes.Buffer
	l.SetOutput(&buf)
	lines := captured(l)

	l.Infof("Store", "dropped")
	l.Warnf("Store", "kept %d", 1)
	l.Debugf("manager", "kept too")

	require.Len(t, *lines, 2)
	assert.Equal(t, hookLine{LevelWarn, "Store", "kept 1"}, (*lines)[0])
	assert.Equal(t, LevelDebug, (*lines)[1].level)
	assert.Contains(t, buf.String(), "component=Store")
	assert.NotContains(t, buf.String(), "dropped")

	assert.True(t, l.Enabled("Manager", LevelDebug))
	assert.False(t, l.Enabled("VPN", LevelInfo))
}

func TestJSONFormat(t *testing.T) {
	l := NewLogger(LogConfig{Format: "json"})
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Errorf("VPN", "start failed: %s", "boom")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "VPN", line["component"])
	assert.Equal(t, "start failed: boom", line["msg"])
	assert.Equal(t, "error", line["level"])
}

func TestWriterSplitsTrailingNewline(t *testing.T) {
	l := NewLogger(LogConfig{})
	l.SetOutput(&bytes.Buffer{})
	lines := captured(l)

	w := l.Writer("API")
	_, err := w.Write([]byte("panic recovered\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("\n"))
	require.NoError(t, err)

	require.Len(t, *lines, 1)
	assert.Equal(t, hookLine{LevelInfo, "API", "panic recovered"}, (*lines)[0])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("TRACE"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelOff, ParseLevel("none"))
	assert.Equal(t, LevelInfo, ParseLevel("loud"))

	var lvl LogLevel
	require.NoError(t, lvl.UnmarshalText([]byte("error")))
	assert.Equal(t, LevelError, lvl)
	text, _ := lvl.MarshalText()
	assert.Equal(t, "error", string(text))
}
