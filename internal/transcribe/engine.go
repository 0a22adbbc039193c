// Package transcribe turns captured PCM audio into text with local whisper.cpp.
package transcribe

import "context"

// Engine converts one utterance of mono s16le PCM into raw transcript text.
type Engine interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
