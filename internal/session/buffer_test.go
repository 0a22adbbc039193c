package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomchat/tomchat/internal/audio"
)

func bufFormat() audio.Format {
	return audio.Format{SampleRate: 16000, FrameDuration: 20 * time.Millisecond}
}

func TestBufferAppendContiguous(t *testing.T) {
	b := NewBuffer(bufFormat())

	for i := 0; i < 5; i++ {
		frame := audio.Frame{Seq: uint64(i), PCM: make([]byte, 640)}
		require.NoError(t, b.Append(frame))
	}
	require.Equal(t, 5, b.Frames())
	require.Equal(t, 100*time.Millisecond, b.Duration())
	require.Len(t, b.Bytes(), 5*640)
}

func TestBufferRejectsSequenceGap(t *testing.T) {
	b := NewBuffer(bufFormat())
	require.NoError(t, b.Append(audio.Frame{Seq: 0, PCM: make([]byte, 640)}))

	err := b.Append(audio.Frame{Seq: 2, PCM: make([]byte, 640)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sequence gap")

	// Repeats are gaps too.
	err = b.Append(audio.Frame{Seq: 0, PCM: make([]byte, 640)})
	require.Error(t, err)
}

func TestBufferRejectsWrongFrameSize(t *testing.T) {
	b := NewBuffer(bufFormat())
	err := b.Append(audio.Frame{Seq: 0, PCM: make([]byte, 100)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "100 bytes")
}

func TestBufferFreezeRejectsWrites(t *testing.T) {
	b := NewBuffer(bufFormat())
	require.NoError(t, b.Append(audio.Frame{Seq: 0, PCM: make([]byte, 640)}))

	require.False(t, b.Frozen())
	b.Freeze()
	require.True(t, b.Frozen())

	err := b.Append(audio.Frame{Seq: 1, PCM: make([]byte, 640)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "frozen")

	b.Freeze() // idempotent
	require.True(t, b.Frozen())
}

func TestBufferEmptyDuration(t *testing.T) {
	b := NewBuffer(bufFormat())
	require.Zero(t, b.Duration())
	require.Zero(t, b.Frames())
	require.Empty(t, b.Bytes())
}
