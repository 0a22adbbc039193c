package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomchat/tomchat/internal/audio"
	"github.com/tomchat/tomchat/internal/config"
	"github.com/tomchat/tomchat/internal/fsm"
	"github.com/tomchat/tomchat/internal/ipc"
	"github.com/tomchat/tomchat/internal/transcript"
)

type requestKind int

const (
	reqToggle requestKind = iota + 1
	reqStop
)

type request struct {
	kind requestKind
}

// Controller owns the session state machine. A single Run goroutine consumes
// toggle requests and capture frames; one worker goroutine per session runs
// the transcribe/refine/inject pipeline.
type Controller struct {
	logger     *slog.Logger
	format     audio.Format
	source     CaptureSource
	classifier Classifier
	engine     Engine
	refiner    Refiner
	notifier   Notifier
	injector   Injector

	minAudio time.Duration
	maxAudio time.Duration

	mu      sync.RWMutex
	state   fsm.State
	session *Session

	requests chan request
	frames   <-chan audio.Frame
	done     chan Outcome
	outcomes chan Outcome
}

// NewController wires the pipeline stages together. refiner may be nil when
// refinement is disabled; notifier may be nil.
func NewController(
	logger *slog.Logger,
	cfg config.Config,
	source CaptureSource,
	classifier Classifier,
	engine Engine,
	refiner Refiner,
	injector Injector,
	notifier Notifier,
) *Controller {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Controller{
		logger:     logger,
		format:     audio.FormatFromConfig(cfg.Audio),
		source:     source,
		classifier: classifier,
		engine:     engine,
		refiner:    refiner,
		injector:   injector,
		notifier:   notifier,
		minAudio:   minUtterance,
		maxAudio:   time.Duration(cfg.VAD.MaxRecordingMS) * time.Millisecond,
		state:      fsm.StateIdle,
		requests:   make(chan request, 1),
		done:       make(chan Outcome, 1),
		outcomes:   make(chan Outcome, 16),
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Outcomes delivers terminal session records. Consumption is optional; when
// nobody reads, old outcomes are discarded.
func (c *Controller) Outcomes() <-chan Outcome {
	return c.outcomes
}

// Toggle enqueues a start/stop request. It reports whether the request was
// queued; a request already pending absorbs repeats.
func (c *Controller) Toggle() bool {
	select {
	case c.requests <- request{kind: reqToggle}:
		return true
	default:
		return false
	}
}

// RequestStop enqueues a stop-only request. Unlike Toggle it never starts
// a recording.
func (c *Controller) RequestStop() bool {
	select {
	case c.requests <- request{kind: reqStop}:
		return true
	default:
		return false
	}
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// toErrorAndReset transitions to failed and back to idle best-effort.
func (c *Controller) toErrorAndReset() {
	_ = c.transition(fsm.EventFail)
	_ = c.transition(fsm.EventReset)
}

// Run is the controller's event loop. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case req := <-c.requests:
			c.handleRequest(ctx, req)
		case frame, ok := <-c.frames:
			if !ok {
				c.frames = nil
				c.completeStop(ctx)
				continue
			}
			c.handleFrame(ctx, frame)
		case outcome := <-c.done:
			c.finalize(ctx, outcome)
		}
	}
}

// Handle serves IPC commands against the live controller.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Ok(string(c.State()), "status")
	case ipc.CommandToggle:
		if c.Toggle() {
			return ipc.Ok(string(c.State()), "toggle requested")
		}
		return ipc.Ok(string(c.State()), "toggle already pending")
	case ipc.CommandStop:
		state := c.State()
		if state != fsm.StateRecording {
			return ipc.Errorf(string(state), "cannot stop from state %s", state)
		}
		if c.RequestStop() {
			return ipc.Ok(string(state), "stop requested")
		}
		return ipc.Ok(string(state), "stop already requested")
	default:
		return ipc.Errorf(string(c.State()), "unknown command: %s", req.Command)
	}
}

// handleRequest routes one toggle/stop request based on current state.
func (c *Controller) handleRequest(ctx context.Context, req request) {
	// A worker that just reported may still be queued behind this request;
	// collect it first so the press lands on settled state.
	select {
	case outcome := <-c.done:
		c.finalize(ctx, outcome)
	default:
	}

	state := c.State()
	if state == fsm.StateFailed {
		// The worker enters failed immediately before reporting; wait for
		// it so the first press after a failure starts fresh.
		c.finalize(ctx, <-c.done)
		state = c.State()
	}

	switch state {
	case fsm.StateIdle:
		if req.kind == reqStop {
			c.logger.Debug("stop ignored, nothing recording")
			return
		}
		c.startSession(ctx)
	case fsm.StateRecording:
		c.beginStop("toggle")
	default:
		// A session is already past the point of no return.
		c.logger.Debug("toggle ignored", "state", string(state))
	}
}

// startSession opens capture and enters recording.
func (c *Controller) startSession(ctx context.Context) {
	if c.session != nil {
		// Previous session's outcome has not been finalized yet.
		c.logger.Debug("toggle ignored, session cleanup pending")
		return
	}
	c.classifier.Reset()
	if err := c.transition(fsm.EventStart); err != nil {
		c.logger.Error("start rejected", "error", err.Error())
		return
	}

	frames, err := c.source.Start(ctx)
	if err != nil {
		c.logger.Error("capture start failed", "error", err.Error())
		c.notifier.Error(ctx, "Unable to start recording")
		c.toErrorAndReset()
		return
	}

	c.session = newSession(c.format)
	c.frames = frames
	c.notifier.Recording(ctx)
	c.logger.Info("session started", "session_id", c.session.ID.String())
}

// handleFrame archives one frame and applies silence/ceiling policy.
func (c *Controller) handleFrame(ctx context.Context, frame audio.Frame) {
	if c.session == nil {
		return
	}

	if err := c.session.buffer.Append(frame); err != nil {
		c.failActive(ctx, fmt.Errorf("archive frame: %w", err))
		return
	}

	decision, err := c.classifier.Classify(frame)
	if err != nil {
		c.failActive(ctx, fmt.Errorf("voice detection: %w", err))
		return
	}
	if decision.IsSpeech {
		c.session.speechSeen = true
	}

	// Frames draining past a stop request are archived and classified, but
	// stop policy no longer applies to them.
	if c.State() != fsm.StateRecording {
		return
	}

	if decision.AutoStop {
		c.logger.Info("silence timeout reached",
			"session_id", c.session.ID.String(),
			"silence_ms", decision.Silence.Milliseconds(),
		)
		c.beginStop("silence")
		return
	}
	if c.session.buffer.Duration() >= c.maxAudio {
		c.logger.Warn("recording ceiling reached",
			"session_id", c.session.ID.String(),
			"audio_ms", c.session.buffer.Duration().Milliseconds(),
		)
		c.beginStop("ceiling")
	}
}

// beginStop freezes intake. The frames channel drains and closes, then
// completeStop decides what to do with the utterance.
func (c *Controller) beginStop(reason string) {
	if err := c.transition(fsm.EventStop); err != nil {
		c.logger.Debug("stop rejected", "error", err.Error())
		return
	}
	c.session.StopReason = reason
	if err := c.source.Stop(); err != nil {
		c.logger.Error("capture stop failed", "error", err.Error())
	}
}

// completeStop runs once capture has drained: drop short or silent
// utterances, otherwise hand the frozen buffer to the pipeline worker.
func (c *Controller) completeStop(ctx context.Context) {
	sess := c.session
	if sess == nil {
		return
	}
	sess.buffer.Freeze()
	duration := sess.buffer.Duration()

	if duration < c.minAudio || !sess.speechSeen {
		if err := c.transition(fsm.EventDrop); err != nil {
			c.logger.Error("drop rejected", "error", err.Error())
			c.toErrorAndReset()
		}
		c.logger.Info("utterance dropped",
			"session_id", sess.ID.String(),
			"audio_ms", duration.Milliseconds(),
			"speech_seen", sess.speechSeen,
		)
		c.notifier.Clear(ctx)
		c.emit(Outcome{
			SessionID:  sess.ID,
			State:      c.State(),
			Dropped:    true,
			StopReason: sess.StopReason,
			Audio:      duration,
			StartedAt:  sess.StartedAt,
			FinishedAt: time.Now(),
		})
		c.session = nil
		return
	}

	if err := c.transition(fsm.EventTranscribe); err != nil {
		c.logger.Error("transcribe rejected", "error", err.Error())
		c.failActive(ctx, err)
		return
	}
	c.notifier.Processing(ctx)

	go c.runPipeline(ctx, sess)
}

// runPipeline executes transcribe, optional refine, and inject for one frozen
// session. It owns the buffer and reports through c.done.
func (c *Controller) runPipeline(ctx context.Context, sess *Session) {
	outcome := Outcome{
		SessionID:  sess.ID,
		StopReason: sess.StopReason,
		Audio:      sess.buffer.Duration(),
		StartedAt:  sess.StartedAt,
	}

	// The event loop finishes the terminal transitions in finalize, so the
	// FSM never reads idle while session bookkeeping is still pending.
	fail := func(err error) {
		_ = c.transition(fsm.EventFail)
		outcome.Err = err
		outcome.FinishedAt = time.Now()
		c.done <- outcome
	}

	raw, err := c.engine.Transcribe(ctx, sess.buffer.Bytes())
	if err != nil {
		fail(fmt.Errorf("transcribe: %w", err))
		return
	}

	text := transcript.Normalize(raw)
	if text == "" {
		fail(ErrEmptyTranscript)
		return
	}
	outcome.Transcript = text

	if c.refiner != nil {
		if err := c.transition(fsm.EventRefine); err != nil {
			fail(err)
			return
		}
		refined := c.refiner.Refine(ctx, text)
		if refined != text {
			outcome.Refined = true
			outcome.Transcript = refined
			text = refined
		}
	}

	if err := c.transition(fsm.EventInject); err != nil {
		fail(err)
		return
	}
	if err := c.injector.Inject(ctx, text); err != nil {
		// Delivery is best-effort. The transcript exists, so the session
		// still completes; the caller can read it from the outcome.
		c.logger.Warn("inject failed", "error", err.Error())
		outcome.InjectionErr = err
	}

	outcome.FinishedAt = time.Now()
	c.done <- outcome
}

// finalize clears session bookkeeping and takes the terminal FSM transition
// once the worker reports. Running in the event loop keeps state and session
// changes atomic relative to incoming requests.
func (c *Controller) finalize(ctx context.Context, outcome Outcome) {
	c.session = nil
	if outcome.Err != nil {
		_ = c.transition(fsm.EventReset)
		c.logger.Error("session failed",
			"session_id", outcome.SessionID.String(),
			"error", outcome.Err.Error(),
		)
		c.notifier.Error(ctx, "Dictation failed")
	} else {
		if err := c.transition(fsm.EventFinish); err != nil {
			c.toErrorAndReset()
		}
		c.logger.Info("session complete",
			"session_id", outcome.SessionID.String(),
			"audio_ms", outcome.Audio.Milliseconds(),
			"chars", len(outcome.Transcript),
			"refined", outcome.Refined,
			"injected", outcome.InjectionErr == nil,
			"stop_reason", outcome.StopReason,
		)
		c.notifier.Clear(ctx)
	}
	outcome.State = c.State()
	c.emit(outcome)
}

// failActive aborts the in-flight recording.
func (c *Controller) failActive(ctx context.Context, err error) {
	sess := c.session
	c.logger.Error("session aborted", "error", err.Error())

	_ = c.source.Stop()
	c.frames = nil
	c.toErrorAndReset()
	c.notifier.Error(ctx, "Dictation failed")

	outcome := Outcome{State: c.State(), Err: err, FinishedAt: time.Now()}
	if sess != nil {
		outcome.SessionID = sess.ID
		outcome.StartedAt = sess.StartedAt
		outcome.Audio = sess.buffer.Duration()
	}
	c.session = nil
	c.emit(outcome)
}

// emit publishes an outcome without ever blocking the event loop.
func (c *Controller) emit(outcome Outcome) {
	select {
	case c.outcomes <- outcome:
	default:
		select {
		case <-c.outcomes:
		default:
		}
		select {
		case c.outcomes <- outcome:
		default:
		}
	}
}

// shutdown releases capture resources on loop exit.
func (c *Controller) shutdown() {
	if c.frames != nil {
		_ = c.source.Stop()
		c.frames = nil
	}
	c.session = nil
}
