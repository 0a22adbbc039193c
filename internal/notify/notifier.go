// Package notify surfaces dictation state to the desktop and to external
// tooling via a small JSON state file.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomchat/tomchat/internal/config"
)

// Controller is the session-facing notification contract.
type Controller interface {
	Recording(context.Context)
	Processing(context.Context)
	Error(context.Context, string)
	Clear(context.Context)
}

// Desktop sends freedesktop notifications over DBus and maintains the
// recording state file status bars poll.
type Desktop struct {
	cfg       config.NotifyConfig
	logger    *slog.Logger
	stateFile string

	mu             sync.Mutex
	notificationID uint32

	// now is replaceable in tests.
	now func() time.Time
}

// stateRecord is the JSON document written to the state file.
type stateRecord struct {
	Recording bool   `json:"recording"`
	Timestamp string `json:"timestamp"`
}

// NewDesktop builds a notifier. With cfg.Enable false only the state file
// is maintained.
func NewDesktop(cfg config.NotifyConfig, logger *slog.Logger) *Desktop {
	return &Desktop{
		cfg:       cfg,
		logger:    logger,
		stateFile: resolveStateFile(cfg.StateFile),
		now:       time.Now,
	}
}

// StateFile returns the resolved recording-state path for diagnostics.
func (d *Desktop) StateFile() string {
	return d.stateFile
}

// Recording marks dictation active and shows a persistent notification.
func (d *Desktop) Recording(ctx context.Context) {
	d.writeState(true)
	d.show(ctx, "Recording…", 300000)
}

// Processing marks capture finished while transcription runs.
func (d *Desktop) Processing(ctx context.Context) {
	d.writeState(false)
	d.show(ctx, "Transcribing…", 300000)
}

// Error flashes a failure message briefly.
func (d *Desktop) Error(ctx context.Context, text string) {
	d.writeState(false)
	if text == "" {
		text = "Dictation failed"
	}
	d.show(ctx, text, 2000)
}

// Clear dismisses the active notification and marks dictation inactive.
func (d *Desktop) Clear(ctx context.Context) {
	d.writeState(false)
	if !d.cfg.Enable {
		return
	}

	d.mu.Lock()
	id := d.notificationID
	d.notificationID = 0
	d.mu.Unlock()
	if id == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := desktopDismiss(ctx, id); err != nil {
		d.logger.Debug("notification dismiss failed", "error", err.Error())
	}
}

// show replaces the previous notification so states do not stack.
func (d *Desktop) show(ctx context.Context, summary string, timeoutMS int) {
	if !d.cfg.Enable {
		return
	}

	d.mu.Lock()
	replaceID := d.notificationID
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	id, err := desktopNotify(ctx, d.cfg.AppName, replaceID, summary, timeoutMS)
	if err != nil {
		d.logger.Debug("desktop notification failed", "error", err.Error())
		return
	}

	d.mu.Lock()
	d.notificationID = id
	d.mu.Unlock()
}

// writeState persists {recording, timestamp} for status-bar integrations.
// Failures are logged, never propagated.
func (d *Desktop) writeState(recording bool) {
	if d.stateFile == "" {
		return
	}

	record := stateRecord{
		Recording: recording,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(record)
	if err != nil {
		d.logger.Debug("marshal recording state", "error", err.Error())
		return
	}

	if err := os.MkdirAll(filepath.Dir(d.stateFile), 0o755); err != nil {
		d.logger.Debug("create state dir", "error", err.Error())
		return
	}
	if err := os.WriteFile(d.stateFile, data, 0o644); err != nil {
		d.logger.Debug("write recording state", "error", err.Error())
	}
}

// resolveStateFile falls back to the runtime dir, then /tmp.
func resolveStateFile(configured string) string {
	if configured != "" {
		return configured
	}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "tomchat-recording.json")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("tomchat-recording-%d.json", os.Getuid()))
}
