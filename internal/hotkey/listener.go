package hotkey

import (
	"context"
	"log/slog"
	"time"

	hook "github.com/robotn/gohook"

	"github.com/tomchat/tomchat/internal/config"
)

// Listener watches for the configured global combination and emits toggle
// events. A toggle already pending delivery absorbs repeats.
type Listener struct {
	combo    Combination
	debounce time.Duration
	logger   *slog.Logger

	toggles chan struct{}

	// now is replaceable in tests.
	now  func() time.Time
	last time.Time
}

// NewListener parses the configured combination. An invalid combination is a
// startup error, not a runtime one.
func NewListener(cfg config.HotkeyConfig, logger *slog.Logger) (*Listener, error) {
	combo, err := Parse(cfg.Combination)
	if err != nil {
		return nil, err
	}
	return &Listener{
		combo:    combo,
		debounce: time.Duration(cfg.DebounceMS) * time.Millisecond,
		logger:   logger,
		toggles:  make(chan struct{}, 1),
		now:      time.Now,
	}, nil
}

// Combination returns the normalized hotkey this listener watches.
func (l *Listener) Combination() Combination {
	return l.combo
}

// Toggles delivers one event per accepted hotkey press.
func (l *Listener) Toggles() <-chan struct{} {
	return l.toggles
}

// Run hooks into the global event stream until ctx is canceled. It blocks.
func (l *Listener) Run(ctx context.Context) error {
	hook.Register(hook.KeyDown, l.combo.Tokens(), func(hook.Event) {
		l.onPress()
	})

	events := hook.Start()
	defer hook.End()

	l.logger.Info("hotkey listener started", "combination", l.combo.String())

	done := make(chan struct{})
	go func() {
		<-hook.Process(events)
		close(done)
	}()

	select {
	case <-ctx.Done():
		hook.End()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

// onPress applies debounce and enqueues a toggle without blocking.
func (l *Listener) onPress() {
	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.debounce {
		return
	}
	l.last = now

	select {
	case l.toggles <- struct{}{}:
		l.logger.Debug("hotkey toggle", "combination", l.combo.String())
	default:
		// A toggle is already queued; the repeat collapses into it.
	}
}
