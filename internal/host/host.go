// Package host exposes an embeddable lifecycle API for running the dictation
// daemon inside another process: init, start, stop, query, destroy, with
// coarse error codes instead of Go errors.
package host

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tomchat/tomchat/internal/app"
	"github.com/tomchat/tomchat/internal/config"
	"github.com/tomchat/tomchat/internal/ipc"
	"github.com/tomchat/tomchat/internal/logging"
)

// Code is the embedding-facing result of a lifecycle call.
type Code int

// The numeric values are part of the embedding ABI and must not change.
const (
	CodeSuccess            Code = 0
	CodeError              Code = 1
	CodeInvalidConfig      Code = 2
	CodeAudioError         Code = 3
	CodeTranscriptionError Code = 4
)

var (
	lastErrMu sync.Mutex
	lastErr   string
)

// LastError returns the message from the most recent failing call.
func LastError() string {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return lastErr
}

func setLastError(msg string) {
	lastErrMu.Lock()
	lastErr = msg
	lastErrMu.Unlock()
}

// Handle is one embedded daemon instance.
type Handle struct {
	mu        sync.Mutex
	cfg       config.Config
	logger    *slog.Logger
	logClose  func() error
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	destroyed bool
}

// Init loads and validates configuration. An empty configPath resolves the
// default location. On failure it returns a nil handle and a code.
func Init(configPath string) (*Handle, Code) {
	logRuntime, err := logging.New()
	if err != nil {
		setLastError("setup logging: " + err.Error())
		return nil, CodeError
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		_ = logRuntime.Close()
		setLastError(err.Error())
		if errors.Is(err, config.ErrInvalid) {
			return nil, CodeInvalidConfig
		}
		return nil, CodeError
	}

	return &Handle{
		cfg:      loaded.Config,
		logger:   logRuntime.Logger,
		logClose: logRuntime.Close,
	}, CodeSuccess
}

// SetConfig replaces the configuration. Rejected while running.
func (h *Handle) SetConfig(cfg config.Config) Code {
	if h == nil {
		setLastError("nil handle")
		return CodeError
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		setLastError("handle destroyed")
		return CodeError
	}
	if h.running {
		setLastError("cannot change config while running")
		return CodeError
	}
	if _, err := config.Validate(cfg); err != nil {
		setLastError(err.Error())
		return CodeInvalidConfig
	}
	h.cfg = cfg
	return CodeSuccess
}

// Start builds the pipeline and launches the daemon in the background.
func (h *Handle) Start() Code {
	if h == nil {
		setLastError("nil handle")
		return CodeError
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		setLastError("handle destroyed")
		return CodeError
	}
	if h.running {
		setLastError("already running")
		return CodeError
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		setLastError(err.Error())
		return CodeError
	}
	listener, err := ipc.Acquire(context.Background(), socketPath, 180*time.Millisecond, 8)
	if err != nil {
		setLastError(err.Error())
		return CodeError
	}

	service, err := app.NewService(h.cfg, h.logger)
	if err != nil {
		_ = listener.Close()
		_ = os.Remove(socketPath)
		setLastError(err.Error())
		return classifyStartError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			_ = listener.Close()
			_ = os.Remove(socketPath)
		}()
		if runErr := service.Run(ctx, listener); runErr != nil && !errors.Is(runErr, context.Canceled) {
			setLastError(runErr.Error())
		}
	}()

	h.cancel = cancel
	h.done = done
	h.running = true
	return CodeSuccess
}

// Stop shuts the daemon down and waits for it to exit.
func (h *Handle) Stop() Code {
	if h == nil {
		setLastError("nil handle")
		return CodeError
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		setLastError("not running")
		return CodeError
	}

	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
	h.running = false
	return CodeSuccess
}

// IsRunning reports whether the embedded daemon is live.
func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Destroy stops the daemon if needed and releases the handle.
func (h *Handle) Destroy() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.running {
		h.cancel()
		<-h.done
		h.running = false
	}
	h.destroyed = true
	closeLog := h.logClose
	h.logClose = nil
	h.mu.Unlock()

	if closeLog != nil {
		_ = closeLog()
	}
}

// classifyStartError maps pipeline construction failures onto the coarse
// code space the embedding API exposes.
func classifyStartError(err error) Code {
	if errors.Is(err, config.ErrInvalid) {
		return CodeInvalidConfig
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "transcription"):
		return CodeTranscriptionError
	case strings.HasPrefix(msg, "voice detection"), strings.Contains(msg, "audio"), strings.Contains(msg, "pulse"):
		return CodeAudioError
	}
	return CodeError
}
