package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "production", "warn")
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	Component(l, "payments").Warn("gateway fallback")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "payments", line["component"])
	assert.Equal(t, "gateway fallback", line["msg"])
}

func TestDevelopmentLoggerIsVerbose(t *testing.T) {
	l := New(&bytes.Buffer{}, "development", "error")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	_, isText := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
