// Package session coordinates the dictation lifecycle: capture, silence
// detection, transcription, refinement, and injection.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tomchat/tomchat/internal/audio"
	"github.com/tomchat/tomchat/internal/fsm"
	"github.com/tomchat/tomchat/internal/vad"
)

// minUtterance is the shortest recording worth transcribing. Anything
// shorter is treated as an accidental toggle and dropped.
const minUtterance = 200 * time.Millisecond

// ErrEmptyTranscript marks a session whose audio produced no text.
var ErrEmptyTranscript = errors.New("transcription produced no text")

// Session is one dictation attempt from hotkey press to injected text.
type Session struct {
	ID         uuid.UUID
	StartedAt  time.Time
	StopReason string

	buffer     *Buffer
	speechSeen bool
}

func newSession(format audio.Format) *Session {
	return &Session{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		buffer:    NewBuffer(format),
	}
}

// Outcome is the terminal record of one session.
type Outcome struct {
	SessionID  uuid.UUID
	State      fsm.State
	Transcript string
	Refined    bool
	Dropped    bool
	StopReason string
	Audio      time.Duration
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time

	// InjectionErr records a failed delivery of an otherwise complete
	// session. Injection is best-effort and never fails the session.
	InjectionErr error
}

// CaptureSource produces sequenced PCM frames for one recording at a time.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan audio.Frame, error)
	Stop() error
}

// Classifier decides speech vs silence per frame and requests auto-stop.
type Classifier interface {
	Reset()
	Classify(frame audio.Frame) (vad.Decision, error)
}

// Engine converts one frozen utterance into raw transcript text.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Refiner cleans up a raw transcript. Implementations never fail; they
// return the input when refinement cannot improve on it.
type Refiner interface {
	Refine(ctx context.Context, raw string) string
}

// Injector delivers final text to the focused window.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Notifier is the session-facing subset of desktop notification behavior.
type Notifier interface {
	Recording(context.Context)
	Processing(context.Context)
	Error(context.Context, string)
	Clear(context.Context)
}

// noopNotifier preserves session flow when no notifier is wired.
type noopNotifier struct{}

func (noopNotifier) Recording(context.Context)     {}
func (noopNotifier) Processing(context.Context)    {}
func (noopNotifier) Error(context.Context, string) {}
func (noopNotifier) Clear(context.Context)         {}
