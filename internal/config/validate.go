package config

import (
	"errors"
	"fmt"
)

// ErrInvalid marks configuration errors that should fail startup.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks cross-field constraints and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	if cfg.Hotkey.Combination == "" {
		return nil, invalid("hotkey.combination is empty")
	}
	if cfg.Hotkey.DebounceMS < 0 {
		return nil, invalid("hotkey.debounce_ms must be >= 0")
	}

	switch cfg.Audio.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, invalid("audio.sample_rate %d unsupported (want 8000|16000|32000|48000)", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		return nil, invalid("audio.channels must be 1 (mono capture)")
	}
	switch cfg.Audio.BufferDurationMS {
	case 10, 20, 30:
	default:
		return nil, invalid("audio.buffer_duration_ms %d unsupported (want 10|20|30)", cfg.Audio.BufferDurationMS)
	}

	if cfg.VAD.TimeoutMS <= 0 {
		return nil, invalid("vad.timeout_ms must be > 0")
	}
	if cfg.VAD.MaxRecordingMS <= 0 {
		return nil, invalid("vad.max_recording_ms must be > 0")
	}
	if cfg.VAD.MaxRecordingMS < cfg.VAD.TimeoutMS {
		return nil, invalid("vad.max_recording_ms must be >= vad.timeout_ms")
	}
	if cfg.VAD.TimeoutMS < cfg.Audio.BufferDurationMS {
		warnings = append(warnings, Warning{
			Key:     "vad.timeout_ms",
			Message: fmt.Sprintf("timeout %dms is below one frame (%dms); auto-stop will fire on the first silent frame", cfg.VAD.TimeoutMS, cfg.Audio.BufferDurationMS),
		})
	}

	if cfg.Speech.ModelPath == "" {
		return nil, invalid("speech.model_path is empty")
	}
	if cfg.Speech.Language == "" {
		warnings = append(warnings, Warning{Key: "speech.language", Message: "language empty; whisper will auto-detect"})
	}

	if cfg.Refinement.Enabled {
		if cfg.Refinement.Endpoint == "" {
			return nil, invalid("text_refinement.endpoint is empty")
		}
		if cfg.Refinement.ModelName == "" {
			return nil, invalid("text_refinement.model_name is empty")
		}
		if cfg.Refinement.TimeoutMS <= 0 {
			return nil, invalid("text_refinement.timeout_ms must be > 0")
		}
		if cfg.Refinement.Temperature < 0 || cfg.Refinement.Temperature > 2 {
			return nil, invalid("text_refinement.temperature must be in [0, 2]")
		}
	}

	if cfg.Text.TypingDelayMS < 0 {
		return nil, invalid("text.typing_delay_ms must be >= 0")
	}
	if len(cfg.Text.TypeCmd.Argv) == 0 {
		return nil, invalid("text.type_cmd is empty")
	}
	if len(cfg.Text.ClipboardCmd.Argv) == 0 {
		warnings = append(warnings, Warning{Key: "text.clipboard_cmd", Message: "clipboard fallback disabled (empty command)"})
	}

	return warnings, nil
}
