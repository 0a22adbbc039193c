package app

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomchat/tomchat/internal/ipc"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func runCommand(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExecuteHelp(t *testing.T) {
	isolateEnv(t)
	code, stdout, _ := runCommand(t, "--help")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "Usage")
	require.Contains(t, stdout, "tomchat")
}

func TestExecuteVersion(t *testing.T) {
	isolateEnv(t)
	code, stdout, _ := runCommand(t, "version")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "tomchat")
}

func TestExecuteUnknownCommand(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCommand(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "unknown command")
}

func TestExecuteUnknownFlag(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCommand(t, "--bogus")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "unknown flag")
}

func TestStatusWithoutDaemon(t *testing.T) {
	isolateEnv(t)
	code, stdout, _ := runCommand(t, "status")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "not running")
}

func TestToggleWithoutDaemonFails(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCommand(t, "toggle")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "daemon is not running")
}

func TestStopWithoutDaemonFails(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCommand(t, "stop")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "daemon is not running")
}

// startFakeDaemon serves IPC on the runtime socket with a canned handler.
func startFakeDaemon(t *testing.T, handler ipc.Handler) {
	t.Helper()
	socketPath, err := ipc.RuntimeSocketPath()
	require.NoError(t, err)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ipc.Serve(ctx, listener, handler)
	}()
	t.Cleanup(func() {
		cancel()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})
}

func TestStatusForwardsToDaemon(t *testing.T) {
	isolateEnv(t)
	startFakeDaemon(t, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandStatus, req.Command)
		return ipc.Response{OK: true, State: "recording"}
	}))

	code, stdout, _ := runCommand(t, "status")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "recording")
}

func TestToggleForwardsToDaemon(t *testing.T) {
	isolateEnv(t)
	startFakeDaemon(t, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandToggle, req.Command)
		return ipc.Response{OK: true, State: "idle", Message: "toggle requested"}
	}))

	code, stdout, _ := runCommand(t, "toggle")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "toggle requested")
}

func TestToggleSurfacesDaemonError(t *testing.T) {
	isolateEnv(t)
	startFakeDaemon(t, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "transcribing", Error: "busy"}
	}))

	code, _, stderr := runCommand(t, "toggle")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "busy")
}

func TestRunFailsFastWithoutModel(t *testing.T) {
	isolateEnv(t)

	// Default config points at a model file that does not exist here.
	code, _, stderr := runCommand(t, "run")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")

	// The socket is released on failure so a retry can bind it.
	socketPath, err := ipc.RuntimeSocketPath()
	require.NoError(t, err)
	_, statErr := net.DialTimeout("unix", socketPath, 50*time.Millisecond)
	require.Error(t, statErr)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	isolateEnv(t)
	missing := filepath.Join(t.TempDir(), "nope.toml")

	code, _, stderr := runCommand(t, "--config", missing, "status")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "not found")
}

func TestConfigWarningSurfaced(t *testing.T) {
	isolateEnv(t)

	// No config file at the default location is first-run behavior: the
	// command proceeds on defaults and says so.
	code, _, stderr := runCommand(t, "status")
	require.Equal(t, 0, code)
	require.Contains(t, stderr, "warning:")
}
