package session

import (
	"fmt"
	"time"

	"github.com/tomchat/tomchat/internal/audio"
)

// Buffer accumulates one utterance of PCM in capture order. Frames must be
// fixed-size and sequence-contiguous; after Freeze the buffer rejects writes
// and ownership passes to the transcription worker.
type Buffer struct {
	frameBytes int
	frameDur   time.Duration

	pcm     []byte
	frames  int
	nextSeq uint64
	frozen  bool
}

// NewBuffer sizes an empty buffer for the given capture format.
func NewBuffer(format audio.Format) *Buffer {
	return &Buffer{
		frameBytes: format.FrameBytes(),
		frameDur:   format.FrameDuration,
	}
}

// Append adds one frame. Gaps, repeats, wrong sizes, and writes after Freeze
// are errors.
func (b *Buffer) Append(frame audio.Frame) error {
	if b.frozen {
		return fmt.Errorf("buffer frozen, rejecting frame %d", frame.Seq)
	}
	if frame.Seq != b.nextSeq {
		return fmt.Errorf("frame sequence gap: want %d, got %d", b.nextSeq, frame.Seq)
	}
	if len(frame.PCM) != b.frameBytes {
		return fmt.Errorf("frame %d has %d bytes, want %d", frame.Seq, len(frame.PCM), b.frameBytes)
	}

	b.pcm = append(b.pcm, frame.PCM...)
	b.frames++
	b.nextSeq++
	return nil
}

// Frames returns the number of appended frames.
func (b *Buffer) Frames() int {
	return b.frames
}

// Duration returns the captured audio length.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.frames) * b.frameDur
}

// Freeze makes the buffer immutable. Idempotent.
func (b *Buffer) Freeze() {
	b.frozen = true
}

// Frozen reports whether Freeze has been called.
func (b *Buffer) Frozen() bool {
	return b.frozen
}

// Bytes hands out the accumulated PCM. Callers must Freeze first; the
// returned slice is not copied.
func (b *Buffer) Bytes() []byte {
	return b.pcm
}
