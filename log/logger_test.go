package log

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogger_TagsModuleAndHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("warn")
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	})

	logger := GetLogger("Device")
	logger.Info().Msg("hidden")
	logger.Warn().Int64("alarmId", 7).Msg("alarm ringing")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "Device", entry["module"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "alarm ringing", entry["message"])
	assert.EqualValues(t, 7, entry["alarmId"])
}

func TestStdErrorLogger_WritesWarnings(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	StdErrorLogger().Println("http: TLS handshake error")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "http: TLS handshake error", entry["message"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLogLevel("DEBUG").String())
	assert.Equal(t, "error", parseLogLevel("error").String())
	assert.Equal(t, "info", parseLogLevel("bogus").String())
}
