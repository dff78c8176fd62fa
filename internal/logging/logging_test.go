package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.WithField("username", "alice").Debug("user joined")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "user joined", line["msg"])
	assert.Equal(t, "alice", line["username"])
}

func TestSetupRejectsBadInput(t *testing.T) {
	assert.Error(t, Setup(nil, "loud", "text"))
	assert.Error(t, Setup(nil, "info", "xml"))
}
