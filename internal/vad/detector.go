// Package vad classifies capture frames as speech or silence and decides
// when a recording should stop on its own.
package vad

import (
	"fmt"
	"time"

	"github.com/maxhawkins/go-webrtcvad"

	"github.com/tomchat/tomchat/internal/audio"
	"github.com/tomchat/tomchat/internal/config"
)

// classifier is the per-frame speech decision. Satisfied by *webrtcvad.VAD;
// tests substitute a deterministic fake.
type classifier interface {
	Process(rate int, frame []byte) (bool, error)
}

// Decision is the outcome of classifying one frame.
type Decision struct {
	Seq      uint64
	IsSpeech bool
	// Silence is the contiguous silence duration ending at this frame.
	// It resets to zero whenever speech is observed.
	Silence time.Duration
	// AutoStop fires exactly once per recording, after speech has been
	// observed and the configured silence timeout elapses.
	AutoStop bool
}

// Detector tracks speech/silence state across one recording.
// It is not safe for concurrent use; the session loop owns it.
type Detector struct {
	cls     classifier
	format  audio.Format
	timeout time.Duration
	enabled bool

	speechSeen bool
	silence    time.Duration
	fired      bool
	nextSeq    uint64
	started    bool
}

// New builds a Detector backed by the WebRTC voice activity engine.
func New(cfg config.VADConfig, format audio.Format) (*Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("create vad: %w", err)
	}
	if err := v.SetMode(cfg.Sensitivity.Mode()); err != nil {
		return nil, fmt.Errorf("set vad mode %d: %w", cfg.Sensitivity.Mode(), err)
	}
	return newDetector(v, cfg, format), nil
}

func newDetector(cls classifier, cfg config.VADConfig, format audio.Format) *Detector {
	return &Detector{
		cls:     cls,
		format:  format,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		enabled: cfg.AutoStop,
	}
}

// Reset clears per-recording state. Call before each new recording.
func (d *Detector) Reset() {
	d.speechSeen = false
	d.silence = 0
	d.fired = false
	d.nextSeq = 0
	d.started = false
}

// Classify processes one frame and updates silence accounting. Frames must
// arrive in sequence order with no gaps.
func (d *Detector) Classify(frame audio.Frame) (Decision, error) {
	if d.started && frame.Seq != d.nextSeq {
		return Decision{}, fmt.Errorf("frame sequence gap: want %d, got %d", d.nextSeq, frame.Seq)
	}
	if !d.started {
		if frame.Seq != 0 {
			return Decision{}, fmt.Errorf("first frame must have sequence 0, got %d", frame.Seq)
		}
		d.started = true
	}
	d.nextSeq = frame.Seq + 1

	if len(frame.PCM) != d.format.FrameBytes() {
		return Decision{}, fmt.Errorf("frame %d has %d bytes, want %d", frame.Seq, len(frame.PCM), d.format.FrameBytes())
	}

	isSpeech, err := d.cls.Process(d.format.SampleRate, frame.PCM)
	if err != nil {
		return Decision{}, fmt.Errorf("classify frame %d: %w", frame.Seq, err)
	}

	if isSpeech {
		d.speechSeen = true
		d.silence = 0
	} else {
		d.silence += d.format.FrameDuration
	}

	decision := Decision{
		Seq:      frame.Seq,
		IsSpeech: isSpeech,
		Silence:  d.silence,
	}
	if d.enabled && !d.fired && d.speechSeen && d.silence >= d.timeout {
		d.fired = true
		decision.AutoStop = true
	}
	return decision, nil
}

// SpeechSeen reports whether any speech frame has been observed since Reset.
func (d *Detector) SpeechSeen() bool {
	return d.speechSeen
}
