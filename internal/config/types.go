// Package config resolves, parses, validates, and defaults tomchat configuration.
package config

import "fmt"

// Config is the fully materialized runtime configuration. It is read-only
// after Load; the daemon never mutates it while a session is active.
type Config struct {
	Hotkey     HotkeyConfig
	Audio      AudioConfig
	VAD        VADConfig
	Speech     SpeechConfig
	Refinement RefinementConfig
	Text       TextConfig
	Notify     NotifyConfig
}

// HotkeyConfig controls the global toggle combination.
type HotkeyConfig struct {
	Combination string
	DebounceMS  int
}

// AudioConfig controls input-source selection and the capture format.
type AudioConfig struct {
	Input            string
	Fallback         string
	SampleRate       int
	Channels         int
	BufferDurationMS int
}

// VADConfig controls silence detection and recording bounds.
type VADConfig struct {
	Sensitivity    Sensitivity
	TimeoutMS      int
	AutoStop       bool
	MaxRecordingMS int
}

// SpeechConfig locates the local whisper model and transcription hints.
type SpeechConfig struct {
	ModelPath string
	BinPath   string
	Language  string
	Translate bool
}

// RefinementConfig controls the optional post-transcription text cleanup pass.
type RefinementConfig struct {
	Enabled           bool
	ModelName         string
	Endpoint          string
	PromptTemplate    string
	MaxTokens         int
	Temperature       float64
	TimeoutMS         int
	FallbackOnTimeout bool
}

// TextConfig controls keystroke injection behavior.
type TextConfig struct {
	TypingDelayMS int
	TypeCmd       CommandConfig
	ClipboardCmd  CommandConfig
}

// NotifyConfig controls desktop notifications and the recording state file.
type NotifyConfig struct {
	Enable    bool
	AppName   string
	StateFile string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Key     string
	Message string
}

// Sensitivity selects how aggressively the VAD classifies frames as silence.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityNormal   Sensitivity = "normal"
	SensitivityHigh     Sensitivity = "high"
	SensitivityVeryHigh Sensitivity = "veryhigh"
)

// ParseSensitivity maps a config token to a Sensitivity level.
func ParseSensitivity(raw string) (Sensitivity, error) {
	switch Sensitivity(normalizeToken(raw)) {
	case SensitivityLow:
		return SensitivityLow, nil
	case SensitivityNormal:
		return SensitivityNormal, nil
	case SensitivityHigh:
		return SensitivityHigh, nil
	case SensitivityVeryHigh:
		return SensitivityVeryHigh, nil
	}
	return "", fmt.Errorf("unknown vad sensitivity %q (want low|normal|high|veryhigh)", raw)
}

// Mode returns the WebRTC VAD aggressiveness for this sensitivity.
// Low is the most permissive mode, VeryHigh the most aggressive.
func (s Sensitivity) Mode() int {
	switch s {
	case SensitivityLow:
		return 0
	case SensitivityNormal:
		return 1
	case SensitivityHigh:
		return 2
	case SensitivityVeryHigh:
		return 3
	}
	return 1
}
