package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomchat/tomchat/internal/audio"
	"github.com/tomchat/tomchat/internal/config"
	"github.com/tomchat/tomchat/internal/fsm"
	"github.com/tomchat/tomchat/internal/ipc"
	"github.com/tomchat/tomchat/internal/vad"
)

const frameBytes = 640 // 20ms @ 16kHz mono s16

// fakeSource hands the test a channel to feed frames through.
type fakeSource struct {
	mu       sync.Mutex
	ch       chan audio.Frame
	startErr error
	starts   int
	stops    int
}

func (s *fakeSource) Start(context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.ch = make(chan audio.Frame, 512)
	s.starts++
	return s.ch, nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	s.stops++
	return nil
}

func (s *fakeSource) feed(frames []audio.Frame) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	for _, frame := range frames {
		ch <- frame
	}
}

// scriptClassifier marks frames below speechUntil as speech and requests
// auto-stop after timeoutFrames of contiguous silence.
type scriptClassifier struct {
	speechUntil   uint64
	timeoutFrames int
	err           error

	silence    int
	speechSeen bool
	resets     int
}

func (s *scriptClassifier) Reset() {
	s.silence = 0
	s.speechSeen = false
	s.resets++
}

func (s *scriptClassifier) Classify(frame audio.Frame) (vad.Decision, error) {
	if s.err != nil {
		return vad.Decision{}, s.err
	}
	speech := frame.Seq < s.speechUntil
	if speech {
		s.speechSeen = true
		s.silence = 0
	} else {
		s.silence++
	}
	decision := vad.Decision{
		Seq:      frame.Seq,
		IsSpeech: speech,
		Silence:  time.Duration(s.silence) * 20 * time.Millisecond,
	}
	if s.timeoutFrames > 0 && s.speechSeen && s.silence >= s.timeoutFrames {
		decision.AutoStop = true
	}
	return decision, nil
}

// stubEngine returns a fixed transcript, optionally blocking until released.
type stubEngine struct {
	text    string
	err     error
	release chan struct{}

	mu     sync.Mutex
	gotPCM []byte
	calls  int
}

func (e *stubEngine) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	e.mu.Lock()
	e.gotPCM = pcm
	e.calls++
	e.mu.Unlock()
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.text, e.err
}

type stubRefiner struct {
	out string // empty means echo input
}

func (r *stubRefiner) Refine(_ context.Context, raw string) string {
	if r.out == "" {
		return raw
	}
	return r.out
}

// recordingInjector captures every injected payload.
type recordingInjector struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (i *recordingInjector) Inject(_ context.Context, text string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.texts = append(i.texts, text)
	return nil
}

func (i *recordingInjector) injected() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.texts...)
}

type fixture struct {
	controller *Controller
	source     *fakeSource
	classifier *scriptClassifier
	engine     *stubEngine
	injector   *recordingInjector
	cancel     context.CancelFunc
}

func newFixture(t *testing.T, classifier *scriptClassifier, engine *stubEngine, refiner Refiner) *fixture {
	t.Helper()

	cfg := config.Default()
	source := &fakeSource{}
	injector := &recordingInjector{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	controller := NewController(logger, cfg, source, classifier, engine, refiner, injector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = controller.Run(ctx) }()
	t.Cleanup(cancel)

	return &fixture{
		controller: controller,
		source:     source,
		classifier: classifier,
		engine:     engine,
		injector:   injector,
		cancel:     cancel,
	}
}

func (f *fixture) startRecording(t *testing.T) {
	t.Helper()
	require.True(t, f.controller.Toggle())
	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateRecording
	}, time.Second, time.Millisecond)
}

func (f *fixture) waitOutcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case outcome := <-f.controller.Outcomes():
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session outcome")
		return Outcome{}
	}
}

func makeFrames(n int) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = audio.Frame{Seq: uint64(i), PCM: make([]byte, frameBytes)}
	}
	return frames
}

func TestHelloWorldAutoStop(t *testing.T) {
	// 2.0s of speech then 1.5s of silence triggers the auto-stop.
	classifier := &scriptClassifier{speechUntil: 100, timeoutFrames: 75}
	engine := &stubEngine{text: " hello world"}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(175))

	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.Equal(t, fsm.StateIdle, outcome.State)
	require.Equal(t, "hello world", outcome.Transcript)
	require.Equal(t, "silence", outcome.StopReason)
	require.Equal(t, 3500*time.Millisecond, outcome.Audio)
	require.False(t, outcome.Refined)

	require.Equal(t, []string{"hello world"}, f.injector.injected(), "text injected exactly once")
	require.Equal(t, fsm.StateIdle, f.controller.State())

	// The engine received the full utterance in capture order.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.gotPCM, 175*frameBytes)
}

func TestManualToggleStop(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "manual stop works"}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(50)) // 1s of speech
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.Equal(t, "toggle", outcome.StopReason)
	require.Equal(t, []string{"manual stop works"}, f.injector.injected())
}

func TestShortUtteranceDropped(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "never reached"}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(5)) // 100ms, under the minimum
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.True(t, outcome.Dropped)
	require.NoError(t, outcome.Err)
	require.Equal(t, fsm.StateIdle, outcome.State)
	require.Empty(t, f.injector.injected())
	require.Zero(t, engine.calls)
}

func TestSilentUtteranceDropped(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 0} // all silence
	engine := &stubEngine{text: "never reached"}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(50)) // 1s, long enough but no speech
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.True(t, outcome.Dropped)
	require.Empty(t, f.injector.injected())
}

func TestTogglesIgnoredWhileTranscribing(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "slow result", release: make(chan struct{})}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(50))
	require.True(t, f.controller.Toggle())

	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateTranscribing
	}, time.Second, time.Millisecond)

	// Toggles past the point of no return do not start or stop anything.
	f.controller.Toggle()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, fsm.StateTranscribing, f.controller.State())
	f.source.mu.Lock()
	require.Equal(t, 1, f.source.starts)
	f.source.mu.Unlock()

	close(engine.release)
	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.Equal(t, []string{"slow result"}, f.injector.injected())

	// The controller accepts a fresh session afterwards.
	require.Eventually(t, func() bool {
		if f.controller.State() != fsm.StateIdle {
			return false
		}
		return f.controller.Toggle()
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateRecording
	}, time.Second, time.Millisecond)
	require.Equal(t, 2, f.classifier.resets)
}

func TestRefinementApplied(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "hello world"}
	f := newFixture(t, classifier, engine, &stubRefiner{out: "Hello, world."})

	f.startRecording(t)
	f.source.feed(makeFrames(50))
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.True(t, outcome.Refined)
	require.Equal(t, "Hello, world.", outcome.Transcript)
	require.Equal(t, []string{"Hello, world."}, f.injector.injected())
}

func TestRefinementEchoKeepsRawText(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "hello world"}
	f := newFixture(t, classifier, engine, &stubRefiner{})

	f.startRecording(t)
	f.source.feed(makeFrames(50))
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.False(t, outcome.Refined)
	require.Equal(t, []string{"hello world"}, f.injector.injected())
}

func TestEmptyTranscriptFailsSession(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "   \n"}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(50))
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.ErrorIs(t, outcome.Err, ErrEmptyTranscript)
	require.Empty(t, f.injector.injected())
	require.Equal(t, fsm.StateIdle, f.controller.State())
}

func TestTranscriptionErrorRecoversToIdle(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{err: errors.New("model exploded")}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(50))
	require.True(t, f.controller.Toggle())

	outcome := f.waitOutcome(t)
	require.Error(t, outcome.Err)
	require.Contains(t, outcome.Err.Error(), "model exploded")

	// Errors are per-session; the next toggle records again.
	require.Eventually(t, func() bool {
		if f.controller.State() != fsm.StateIdle {
			return false
		}
		return f.controller.Toggle()
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateRecording
	}, time.Second, time.Millisecond)
}

// newLoopFreeController builds a controller without a running event loop so a
// test can interleave requests and worker reports deterministically.
func newLoopFreeController(source *fakeSource) *Controller {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "unused"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(logger, config.Default(), source, classifier, engine, nil, &recordingInjector{}, nil)
}

// failWorker drives the controller to the instant where the worker has
// entered failed but the event loop has not collected its report yet.
func failWorker(t *testing.T, c *Controller) *Session {
	t.Helper()
	sess := newSession(c.format)
	c.session = sess
	require.NoError(t, c.transition(fsm.EventStart))
	require.NoError(t, c.transition(fsm.EventStop))
	require.NoError(t, c.transition(fsm.EventTranscribe))
	require.NoError(t, c.transition(fsm.EventFail))
	return sess
}

func TestPressAfterWorkerFailureStartsFreshSession(t *testing.T) {
	source := &fakeSource{}
	controller := newLoopFreeController(source)

	sess := failWorker(t, controller)
	controller.done <- Outcome{SessionID: sess.ID, Err: errors.New("transcribe: boom")}

	controller.handleRequest(context.Background(), request{kind: reqToggle})

	require.Equal(t, fsm.StateRecording, controller.State())
	require.NotNil(t, controller.session)
	require.NotEqual(t, sess.ID, controller.session.ID)

	failed := <-controller.Outcomes()
	require.Error(t, failed.Err)
	require.Equal(t, fsm.StateIdle, failed.State)
}

func TestPressBeforeWorkerReportWaitsThenStarts(t *testing.T) {
	source := &fakeSource{}
	controller := newLoopFreeController(source)

	sess := failWorker(t, controller)
	go func() {
		time.Sleep(10 * time.Millisecond)
		controller.done <- Outcome{SessionID: sess.ID, Err: errors.New("transcribe: boom")}
	}()

	controller.handleRequest(context.Background(), request{kind: reqToggle})

	require.Equal(t, fsm.StateRecording, controller.State())
	require.NotNil(t, controller.session)
	require.NotEqual(t, sess.ID, controller.session.ID)
}

func TestInjectionFailureStillCompletesSession(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "hello"}
	f := newFixture(t, classifier, engine, nil)
	f.injector.err = errors.New("wtype missing")

	f.startRecording(t)
	f.source.feed(makeFrames(50))
	require.True(t, f.controller.Toggle())

	// Delivery failure is logged and recorded, never a session failure.
	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.False(t, outcome.Dropped)
	require.Equal(t, "hello", outcome.Transcript)
	require.Error(t, outcome.InjectionErr)
	require.Contains(t, outcome.InjectionErr.Error(), "wtype missing")
	require.Equal(t, fsm.StateIdle, f.controller.State())
}

func TestRecordingCeilingStops(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32} // endless speech
	engine := &stubEngine{text: "bounded"}

	cfg := config.Default()
	cfg.VAD.MaxRecordingMS = 500
	source := &fakeSource{}
	injector := &recordingInjector{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	controller := NewController(logger, cfg, source, classifier, engine, nil, injector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = controller.Run(ctx) }()

	require.True(t, controller.Toggle())
	require.Eventually(t, func() bool {
		return controller.State() == fsm.StateRecording
	}, time.Second, time.Millisecond)
	source.feed(makeFrames(30)) // 600ms > 500ms ceiling

	select {
	case outcome := <-controller.Outcomes():
		require.NoError(t, outcome.Err)
		require.Equal(t, "ceiling", outcome.StopReason)
		require.Equal(t, []string{"bounded"}, injector.injected())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ceiling stop")
	}
}

func TestClassifierErrorAbortsSession(t *testing.T) {
	classifier := &scriptClassifier{err: errors.New("vad broke")}
	engine := &stubEngine{text: "never"}
	f := newFixture(t, classifier, engine, nil)

	f.startRecording(t)
	f.source.feed(makeFrames(1))

	outcome := f.waitOutcome(t)
	require.Error(t, outcome.Err)
	require.Equal(t, fsm.StateIdle, f.controller.State())
	require.Empty(t, f.injector.injected())
}

func TestCaptureStartFailureRecovers(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "never"}
	f := newFixture(t, classifier, engine, nil)
	f.source.startErr = errors.New("no pulse server")

	require.True(t, f.controller.Toggle())
	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateIdle
	}, time.Second, time.Millisecond)

	// Recovered: clearing the fault lets the next toggle record.
	f.source.mu.Lock()
	f.source.startErr = nil
	f.source.mu.Unlock()
	require.Eventually(t, func() bool {
		return f.controller.Toggle()
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateRecording
	}, time.Second, time.Millisecond)
}

func TestHandleIPCCommands(t *testing.T) {
	classifier := &scriptClassifier{speechUntil: 1 << 32}
	engine := &stubEngine{text: "via ipc"}
	f := newFixture(t, classifier, engine, nil)

	resp := f.controller.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)

	resp = f.controller.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.False(t, resp.OK, "stop from idle is rejected")

	resp = f.controller.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.True(t, resp.OK)
	require.Eventually(t, func() bool {
		return f.controller.State() == fsm.StateRecording
	}, time.Second, time.Millisecond)

	f.source.feed(makeFrames(50))
	resp = f.controller.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)

	outcome := f.waitOutcome(t)
	require.NoError(t, outcome.Err)
	require.Equal(t, []string{"via ipc"}, f.injector.injected())

	resp = f.controller.Handle(context.Background(), ipc.Request{Command: "bogus"})
	require.False(t, resp.OK)
	require.True(t, strings.Contains(resp.Error, "unknown command"))
}
