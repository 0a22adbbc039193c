package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/tomchat/tomchat/internal/config"
)

// Frame is one fixed-duration slice of the mono s16le capture stream.
// Seq is contiguous and starts at zero for each capture.
type Frame struct {
	Seq uint64
	PCM []byte
}

// Format fixes the PCM layout of a capture stream.
type Format struct {
	SampleRate    int
	FrameDuration time.Duration
}

// FormatFromConfig derives the stream format from validated audio settings.
func FormatFromConfig(cfg config.AudioConfig) Format {
	return Format{
		SampleRate:    cfg.SampleRate,
		FrameDuration: time.Duration(cfg.BufferDurationMS) * time.Millisecond,
	}
}

// FrameBytes returns the byte length of one frame (16-bit mono samples).
func (f Format) FrameBytes() int {
	samples := f.SampleRate * int(f.FrameDuration/time.Millisecond) / 1000
	return samples * 2
}

// Duration converts a frame count into stream time.
func (f Format) Duration(frames int) time.Duration {
	return time.Duration(frames) * f.FrameDuration
}

// Capture streams fixed-size PCM frames from one selected Pulse source.
type Capture struct {
	device Device
	format Format

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan Frame
	stopCh chan struct{}

	mu        sync.Mutex
	assembler assembler
	stopped   bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartCapture creates and starts a record stream for the given device and format.
// The stream is mono s16le at format.SampleRate.
func StartCapture(ctx context.Context, selected Device, format Format) (*Capture, error) {
	if format.FrameBytes() <= 0 {
		return nil, fmt.Errorf("invalid capture format: %d Hz / %s frames", format.SampleRate, format.FrameDuration)
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("tomchat"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := &Capture{
		device:    selected,
		format:    format,
		client:    client,
		frames:    make(chan Frame, 128),
		stopCh:    make(chan struct{}),
		assembler: assembler{frameBytes: format.FrameBytes()},
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(format.FrameBytes())),
		pulse.RecordMediaName("tomchat dictation"),
	)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = capture.Stop()
	}()

	return capture, nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Format returns the PCM layout of this capture.
func (c *Capture) Format() Format {
	return c.format
}

// Frames returns the sequenced PCM stream. The channel is closed by Stop.
func (c *Capture) Frames() <-chan Frame {
	return c.frames
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream and closes Frames exactly once. A trailing partial
// frame shorter than the fixed frame size is discarded.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()
	close(c.frames)
	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM receives raw Pulse buffers and emits fixed-size sequenced frames.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)
	frames := c.assembler.push(buffer)
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))

	for _, frame := range frames {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.frames <- frame:
		}
	}

	return len(buffer), nil
}

// assembler slices an arbitrary byte stream into contiguous fixed-size frames.
type assembler struct {
	frameBytes int
	pending    []byte
	nextSeq    uint64
}

// push appends raw bytes and returns every complete frame now available.
func (a *assembler) push(buffer []byte) []Frame {
	a.pending = append(a.pending, buffer...)

	frames := make([]Frame, 0, len(a.pending)/a.frameBytes)
	for len(a.pending) >= a.frameBytes {
		pcm := make([]byte, a.frameBytes)
		copy(pcm, a.pending[:a.frameBytes])
		a.pending = a.pending[a.frameBytes:]
		frames = append(frames, Frame{Seq: a.nextSeq, PCM: pcm})
		a.nextSeq++
	}
	return frames
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
