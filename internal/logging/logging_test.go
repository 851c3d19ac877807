package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput(&buf, "warn", "json")
	require.NoError(t, err)

	log.Info("dropped")
	log.WithField("node", "a").Warn("cache lookup failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache lookup failed", entry["msg"])
	assert.Equal(t, "a", entry["node"])
	assert.Equal(t, "warning", entry["level"])
}

func TestNewWithOutput_Text(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput(&buf, "DEBUG", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("run_id", "r1").Debug("phase changed")
	assert.Contains(t, buf.String(), "run_id=r1")
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New("loud", "text")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}
