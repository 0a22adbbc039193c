package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomchat/tomchat/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveStateFileConfigured(t *testing.T) {
	require.Equal(t, "/tmp/custom.json", resolveStateFile("/tmp/custom.json"))
}

func TestResolveStateFileRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	require.Equal(t, "/run/user/1000/tomchat-recording.json", resolveStateFile(""))
}

func TestResolveStateFileTempFallback(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	path := resolveStateFile("")
	require.Contains(t, path, "tomchat-recording-")
}

func TestWriteStateRoundTrip(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state", "recording.json")
	d := NewDesktop(config.NotifyConfig{StateFile: stateFile}, discardLogger())
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	d.Recording(context.Background())

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)

	var record stateRecord
	require.NoError(t, json.Unmarshal(data, &record))
	require.True(t, record.Recording)
	require.Equal(t, "2026-08-30T12:00:00Z", record.Timestamp)

	d.Clear(context.Background())
	data, err = os.ReadFile(stateFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	require.False(t, record.Recording)
}

func TestProcessingAndErrorMarkNotRecording(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "recording.json")
	d := NewDesktop(config.NotifyConfig{StateFile: stateFile}, discardLogger())

	d.Recording(context.Background())
	d.Processing(context.Background())

	var record stateRecord
	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	require.False(t, record.Recording)

	d.Recording(context.Background())
	d.Error(context.Background(), "boom")
	data, err = os.ReadFile(stateFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	require.False(t, record.Recording)
}

func TestDisabledNotifierStillTracksState(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "recording.json")
	d := NewDesktop(config.NotifyConfig{Enable: false, StateFile: stateFile}, discardLogger())

	// No busctl calls happen when disabled; only the state file moves.
	d.Recording(context.Background())
	_, err := os.ReadFile(stateFile)
	require.NoError(t, err)

	d.Clear(context.Background())
}

func TestStateFileAccessor(t *testing.T) {
	d := NewDesktop(config.NotifyConfig{StateFile: "/tmp/x.json"}, discardLogger())
	require.Equal(t, "/tmp/x.json", d.StateFile())
}
