package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment overrides honored after the config file is read.
const (
	EnvModelPath = "TOMCHAT_MODEL_PATH"
	EnvHotkey    = "TOMCHAT_HOTKEY"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	// A .env next to the binary may carry the TOMCHAT_* overrides.
	_ = godotenv.Load()

	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}

	if _, statErr := os.Stat(resolvedPath); statErr != nil {
		if !errors.Is(statErr, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("%w: read config %q: %v", ErrInvalid, resolvedPath, statErr)
		}
		// A missing default-location file means first run; a missing
		// explicitly requested file is a caller mistake.
		if explicitPath != "" {
			return Loaded{}, fmt.Errorf("%w: config file %q not found", ErrInvalid, resolvedPath)
		}
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	} else {
		v := viper.New()
		v.SetConfigFile(resolvedPath)
		v.SetConfigType("toml")
		setDefaults(v)

		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, fmt.Errorf("%w: parse config %q: %v", ErrInvalid, resolvedPath, err)
		}

		cfg, warnings, err := fromViper(v)
		if err != nil {
			return Loaded{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		loaded.Config = cfg
		loaded.Warnings = append(loaded.Warnings, warnings...)
		loaded.Exists = true
	}

	applyEnvOverrides(&loaded.Config)

	warnings, err := Validate(loaded.Config)
	loaded.Warnings = append(loaded.Warnings, warnings...)
	if err != nil {
		return Loaded{}, err
	}

	return loaded, nil
}

// setDefaults seeds viper with Default() so partial files inherit the rest.
func setDefaults(v *viper.Viper) {
	base := Default()

	v.SetDefault("hotkey.combination", base.Hotkey.Combination)
	v.SetDefault("hotkey.debounce_ms", base.Hotkey.DebounceMS)

	v.SetDefault("audio.input", base.Audio.Input)
	v.SetDefault("audio.fallback", base.Audio.Fallback)
	v.SetDefault("audio.sample_rate", base.Audio.SampleRate)
	v.SetDefault("audio.channels", base.Audio.Channels)
	v.SetDefault("audio.buffer_duration_ms", base.Audio.BufferDurationMS)

	v.SetDefault("vad.sensitivity", string(base.VAD.Sensitivity))
	v.SetDefault("vad.timeout_ms", base.VAD.TimeoutMS)
	v.SetDefault("vad.auto_stop", base.VAD.AutoStop)
	v.SetDefault("vad.max_recording_ms", base.VAD.MaxRecordingMS)

	v.SetDefault("speech.model_path", base.Speech.ModelPath)
	v.SetDefault("speech.bin_path", base.Speech.BinPath)
	v.SetDefault("speech.language", base.Speech.Language)
	v.SetDefault("speech.translate", base.Speech.Translate)

	v.SetDefault("text_refinement.enabled", base.Refinement.Enabled)
	v.SetDefault("text_refinement.model_name", base.Refinement.ModelName)
	v.SetDefault("text_refinement.endpoint", base.Refinement.Endpoint)
	v.SetDefault("text_refinement.prompt_template", base.Refinement.PromptTemplate)
	v.SetDefault("text_refinement.max_tokens", base.Refinement.MaxTokens)
	v.SetDefault("text_refinement.temperature", base.Refinement.Temperature)
	v.SetDefault("text_refinement.timeout_ms", base.Refinement.TimeoutMS)
	v.SetDefault("text_refinement.fallback_on_timeout", base.Refinement.FallbackOnTimeout)

	v.SetDefault("text.typing_delay_ms", base.Text.TypingDelayMS)
	v.SetDefault("text.type_cmd", base.Text.TypeCmd.Raw)
	v.SetDefault("text.clipboard_cmd", base.Text.ClipboardCmd.Raw)

	v.SetDefault("notify.enable", base.Notify.Enable)
	v.SetDefault("notify.app_name", base.Notify.AppName)
	v.SetDefault("notify.state_file", base.Notify.StateFile)
}

// fromViper materializes the immutable Config from parsed viper state.
func fromViper(v *viper.Viper) (Config, []Warning, error) {
	var warnings []Warning

	sensitivity, err := ParseSensitivity(v.GetString("vad.sensitivity"))
	if err != nil {
		return Config{}, nil, err
	}

	typeCmd, err := commandConfig(v.GetString("text.type_cmd"))
	if err != nil {
		return Config{}, nil, fmt.Errorf("text.type_cmd: %v", err)
	}
	clipboardCmd, err := commandConfig(v.GetString("text.clipboard_cmd"))
	if err != nil {
		return Config{}, nil, fmt.Errorf("text.clipboard_cmd: %v", err)
	}

	cfg := Config{
		Hotkey: HotkeyConfig{
			Combination: strings.TrimSpace(v.GetString("hotkey.combination")),
			DebounceMS:  v.GetInt("hotkey.debounce_ms"),
		},
		Audio: AudioConfig{
			Input:            v.GetString("audio.input"),
			Fallback:         v.GetString("audio.fallback"),
			SampleRate:       v.GetInt("audio.sample_rate"),
			Channels:         v.GetInt("audio.channels"),
			BufferDurationMS: v.GetInt("audio.buffer_duration_ms"),
		},
		VAD: VADConfig{
			Sensitivity:    sensitivity,
			TimeoutMS:      v.GetInt("vad.timeout_ms"),
			AutoStop:       v.GetBool("vad.auto_stop"),
			MaxRecordingMS: v.GetInt("vad.max_recording_ms"),
		},
		Speech: SpeechConfig{
			ModelPath: strings.TrimSpace(v.GetString("speech.model_path")),
			BinPath:   strings.TrimSpace(v.GetString("speech.bin_path")),
			Language:  strings.TrimSpace(v.GetString("speech.language")),
			Translate: v.GetBool("speech.translate"),
		},
		Refinement: RefinementConfig{
			Enabled:           v.GetBool("text_refinement.enabled"),
			ModelName:         v.GetString("text_refinement.model_name"),
			Endpoint:          strings.TrimSpace(v.GetString("text_refinement.endpoint")),
			PromptTemplate:    v.GetString("text_refinement.prompt_template"),
			MaxTokens:         v.GetInt("text_refinement.max_tokens"),
			Temperature:       v.GetFloat64("text_refinement.temperature"),
			TimeoutMS:         v.GetInt("text_refinement.timeout_ms"),
			FallbackOnTimeout: v.GetBool("text_refinement.fallback_on_timeout"),
		},
		Text: TextConfig{
			TypingDelayMS: v.GetInt("text.typing_delay_ms"),
			TypeCmd:       typeCmd,
			ClipboardCmd:  clipboardCmd,
		},
		Notify: NotifyConfig{
			Enable:    v.GetBool("notify.enable"),
			AppName:   v.GetString("notify.app_name"),
			StateFile: strings.TrimSpace(v.GetString("notify.state_file")),
		},
	}

	return cfg, warnings, nil
}

func commandConfig(raw string) (CommandConfig, error) {
	argv, err := ParseArgv(raw)
	if err != nil {
		return CommandConfig{}, err
	}
	return CommandConfig{Raw: strings.TrimSpace(raw), Argv: argv}, nil
}

// applyEnvOverrides layers TOMCHAT_* environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if modelPath := strings.TrimSpace(os.Getenv(EnvModelPath)); modelPath != "" {
		cfg.Speech.ModelPath = modelPath
	}
	if hotkey := strings.TrimSpace(os.Getenv(EnvHotkey)); hotkey != "" {
		cfg.Hotkey.Combination = hotkey
	}
}
