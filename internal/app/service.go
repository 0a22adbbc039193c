package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/tomchat/tomchat/internal/audio"
	"github.com/tomchat/tomchat/internal/config"
	"github.com/tomchat/tomchat/internal/hotkey"
	"github.com/tomchat/tomchat/internal/inject"
	"github.com/tomchat/tomchat/internal/ipc"
	"github.com/tomchat/tomchat/internal/notify"
	"github.com/tomchat/tomchat/internal/refine"
	"github.com/tomchat/tomchat/internal/session"
	"github.com/tomchat/tomchat/internal/transcribe"
	"github.com/tomchat/tomchat/internal/vad"
)

// Service is the assembled daemon: hotkey listener, session controller, and
// their supporting pipeline stages.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	controller *session.Controller
	hotkeys    *hotkey.Listener
	notifier   *notify.Desktop
}

// NewService builds every pipeline stage from validated config. A missing
// model, unknown hotkey, or unavailable VAD engine fails startup; a
// refinement endpoint problem only disables refinement.
func NewService(cfg config.Config, logger *slog.Logger) (*Service, error) {
	hotkeys, err := hotkey.NewListener(cfg.Hotkey, logger)
	if err != nil {
		return nil, fmt.Errorf("hotkey: %w", err)
	}

	engine, err := transcribe.NewWhisperCLI(cfg.Speech, cfg.Audio.SampleRate, logger)
	if err != nil {
		return nil, fmt.Errorf("transcription: %w", err)
	}

	format := audio.FormatFromConfig(cfg.Audio)
	detector, err := vad.New(cfg.VAD, format)
	if err != nil {
		return nil, fmt.Errorf("voice detection: %w", err)
	}

	source := audio.NewPulseSource(cfg.Audio, logger)
	injector := inject.New(cfg.Text, logger)
	notifier := notify.NewDesktop(cfg.Notify, logger)

	var refiner session.Refiner
	if cfg.Refinement.Enabled {
		if cfg.Refinement.Endpoint == "" {
			logger.Warn("refinement enabled but endpoint empty, continuing without it")
		} else {
			refiner = refine.New(cfg.Refinement, logger)
		}
	}

	controller := session.NewController(logger, cfg, source, detector, engine, refiner, injector, notifier)

	return &Service{
		cfg:        cfg,
		logger:     logger,
		controller: controller,
		hotkeys:    hotkeys,
		notifier:   notifier,
	}, nil
}

// Controller exposes the session controller for IPC handling.
func (s *Service) Controller() *session.Controller {
	return s.controller
}

// Run drives the daemon until ctx is canceled or a component fails. The IPC
// listener is served alongside the hotkey and session loops.
func (s *Service) Run(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() {
		errCh <- ipc.Serve(ctx, listener, s.controller)
	}()
	go func() {
		errCh <- s.controller.Run(ctx)
	}()
	go func() {
		errCh <- s.hotkeys.Run(ctx)
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.hotkeys.Toggles():
				s.controller.Toggle()
			}
		}
	}()

	s.logger.Info("daemon ready",
		"hotkey", s.hotkeys.Combination().String(),
		"model", s.cfg.Speech.ModelPath,
		"refinement", s.cfg.Refinement.Enabled,
		"state_file", s.notifier.StateFile(),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return ctx.Err()
	}
}
