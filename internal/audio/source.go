package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tomchat/tomchat/internal/config"
)

// PulseSource opens one Pulse capture stream per dictation session.
type PulseSource struct {
	cfg    config.AudioConfig
	format Format
	logger *slog.Logger

	mu      sync.Mutex
	capture *Capture
}

// NewPulseSource builds a reusable capture source from validated audio settings.
func NewPulseSource(cfg config.AudioConfig, logger *slog.Logger) *PulseSource {
	return &PulseSource{
		cfg:    cfg,
		format: FormatFromConfig(cfg),
		logger: logger,
	}
}

// Format returns the PCM layout every stream from this source uses.
func (s *PulseSource) Format() Format {
	return s.format
}

// Start selects a device and begins a new capture stream. Only one stream
// may be active at a time.
func (s *PulseSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return nil, errors.New("capture already active")
	}

	selection, err := SelectDevice(ctx, s.cfg.Input, s.cfg.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" {
		s.logger.Warn("audio device fallback", "warning", selection.Warning)
	}

	capture, err := StartCapture(ctx, selection.Device, s.format)
	if err != nil {
		return nil, err
	}

	s.logger.Info("capture started",
		"device", capture.Device().ID,
		"sample_rate", s.format.SampleRate,
		"frame_ms", int(s.format.FrameDuration.Milliseconds()),
	)

	s.capture = capture
	return capture.Frames(), nil
}

// Stop halts the active stream, if any, and releases the source for reuse.
func (s *PulseSource) Stop() error {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()

	if capture == nil {
		return nil
	}
	s.logger.Info("capture stopped", "bytes", capture.BytesCaptured())
	return capture.Stop()
}
