package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomchat/tomchat/internal/config"
)

// binaryNames are tried in order when speech.bin_path is unset.
// whisper-cli is the current upstream name, main the legacy one.
var binaryNames = []string{"whisper-cli", "whisper-cpp", "whisper", "main"}

// WhisperCLI shells out to a whisper.cpp binary for each utterance.
type WhisperCLI struct {
	modelPath  string
	binPath    string
	language   string
	translate  bool
	sampleRate int
	logger     *slog.Logger
}

// NewWhisperCLI verifies the model file and binary up front. A missing model
// or binary is a startup error.
func NewWhisperCLI(cfg config.SpeechConfig, sampleRate int, logger *slog.Logger) (*WhisperCLI, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model %q: %w", cfg.ModelPath, err)
	}

	binPath := cfg.BinPath
	if binPath == "" {
		binPath = findWhisperBinary()
	}
	if binPath == "" {
		return nil, fmt.Errorf("whisper binary not found (tried %s); set speech.bin_path", strings.Join(binaryNames, ", "))
	}
	if _, err := exec.LookPath(binPath); err != nil {
		return nil, fmt.Errorf("whisper binary %q: %w", binPath, err)
	}

	return &WhisperCLI{
		modelPath:  cfg.ModelPath,
		binPath:    binPath,
		language:   cfg.Language,
		translate:  cfg.Translate,
		sampleRate: sampleRate,
		logger:     logger,
	}, nil
}

// BinPath returns the resolved whisper binary for diagnostics.
func (w *WhisperCLI) BinPath() string {
	return w.binPath
}

// Transcribe writes the utterance to a temp WAV, runs whisper.cpp with JSON
// output, and joins the segment texts.
func (w *WhisperCLI) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	dir, err := os.MkdirTemp("", "tomchat-asr-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	audioPath := filepath.Join(dir, "utterance.wav")
	if err := os.WriteFile(audioPath, EncodeWAV(pcm, w.sampleRate), 0o600); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	outBase := filepath.Join(dir, "utterance")

	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-oj",
		"-of", outBase,
		"--no-prints",
	}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}
	if w.translate {
		args = append(args, "--translate")
	}

	started := time.Now()
	cmd := exec.CommandContext(ctx, w.binPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("whisper canceled: %w", ctx.Err())
		}
		return "", fmt.Errorf("whisper failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}
	text, err := parseWhisperJSON(data)
	if err != nil {
		return "", err
	}

	w.logger.Info("transcription complete",
		"audio_ms", len(pcm)/2*1000/w.sampleRate,
		"elapsed_ms", time.Since(started).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}

// whisperOutput mirrors the JSON whisper.cpp emits with -oj.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}

// parseWhisperJSON joins all segment texts from one whisper.cpp JSON document.
func parseWhisperJSON(data []byte) (string, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parse whisper output: %w", err)
	}
	var b strings.Builder
	for _, seg := range out.Transcription {
		b.WriteString(seg.Text)
	}
	return b.String(), nil
}

// findWhisperBinary probes PATH and common install locations.
func findWhisperBinary() string {
	for _, name := range binaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "whisper.cpp"),
	}
	for _, loc := range locations {
		for _, name := range binaryNames {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
