// Package doctor runs readiness diagnostics for config, audio, whisper, and
// the optional refinement endpoint.
package doctor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tomchat/tomchat/internal/audio"
	"github.com/tomchat/tomchat/internal/config"
	"github.com/tomchat/tomchat/internal/hotkey"
	"github.com/tomchat/tomchat/internal/transcribe"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	configMsg := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		configMsg = fmt.Sprintf("%q not found, using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMsg})
	for _, warning := range cfg.Warnings {
		checks = append(checks, Check{
			Name:    "config." + warning.Key,
			Pass:    true,
			Message: "warning: " + warning.Message,
		})
	}

	checks = append(checks, checkHotkey(cfg.Config))
	checks = append(checks, checkModel(cfg.Config))
	checks = append(checks, checkWhisperBinary(cfg.Config))
	checks = append(checks, checkCommand(cfg.Config.Text.TypeCmd.Argv, "type_cmd"))
	if len(cfg.Config.Text.ClipboardCmd.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Text.ClipboardCmd.Argv, "clipboard_cmd"))
	}
	checks = append(checks, checkAudioSelection(cfg.Config))
	if cfg.Config.Refinement.Enabled {
		checks = append(checks, checkRefinementEndpoint(cfg.Config))
	}

	return Report{Checks: checks}
}

func discardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkHotkey parses the configured combination.
func checkHotkey(cfg config.Config) Check {
	combo, err := hotkey.Parse(cfg.Hotkey.Combination)
	if err != nil {
		return Check{Name: "hotkey", Pass: false, Message: err.Error()}
	}
	return Check{Name: "hotkey", Pass: true, Message: fmt.Sprintf("listening for %s", combo.String())}
}

// checkModel verifies the whisper model file exists and is non-empty.
func checkModel(cfg config.Config) Check {
	info, err := os.Stat(cfg.Speech.ModelPath)
	if err != nil {
		return Check{Name: "speech.model", Pass: false, Message: err.Error()}
	}
	if info.Size() == 0 {
		return Check{Name: "speech.model", Pass: false, Message: fmt.Sprintf("%q is empty", cfg.Speech.ModelPath)}
	}
	return Check{Name: "speech.model", Pass: true, Message: fmt.Sprintf("%q (%d MiB)", cfg.Speech.ModelPath, info.Size()>>20)}
}

// checkWhisperBinary resolves the transcription binary the daemon would use.
func checkWhisperBinary(cfg config.Config) Check {
	if cfg.Speech.BinPath != "" {
		return checkBinary(cfg.Speech.BinPath, "configured whisper binary")
	}
	engine, err := transcribe.NewWhisperCLI(cfg.Speech, cfg.Audio.SampleRate, discardSlog())
	if err != nil {
		return Check{Name: "speech.bin", Pass: false, Message: err.Error()}
	}
	return Check{Name: "speech.bin", Pass: true, Message: fmt.Sprintf("found at %s", engine.BinPath())}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRefinementEndpoint probes the Ollama HTTP endpoint.
func checkRefinementEndpoint(cfg config.Config) Check {
	base := strings.TrimSpace(cfg.Refinement.Endpoint)
	if base == "" {
		return Check{Name: "refinement.endpoint", Pass: false, Message: "text_refinement.ollama_url is empty"}
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(strings.TrimRight(base, "/") + "/api/tags")
	if err != nil {
		return Check{Name: "refinement.endpoint", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Check{Name: "refinement.endpoint", Pass: false, Message: fmt.Sprintf("status %d from %s", resp.StatusCode, base)}
	}
	return Check{
		Name:    "refinement.endpoint",
		Pass:    true,
		Message: fmt.Sprintf("model %q reachable at %s", cfg.Refinement.ModelName, base),
	}
}
