package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	typeCmd := "wtype -d {delay_ms} -"
	clipboardCmd := "wl-copy --trim-newline"

	return Config{
		Hotkey: HotkeyConfig{
			Combination: "ctrl+shift+space",
			DebounceMS:  250,
		},
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			SampleRate:       16000,
			Channels:         1,
			BufferDurationMS: 20,
		},
		VAD: VADConfig{
			Sensitivity:    SensitivityNormal,
			TimeoutMS:      1500,
			AutoStop:       true,
			MaxRecordingMS: 120000,
		},
		Speech: SpeechConfig{
			ModelPath: "models/ggml-base.bin",
			Language:  "en",
		},
		Refinement: RefinementConfig{
			Enabled:   false,
			ModelName: "gemma3:1b",
			Endpoint:  "http://localhost:11434",
			PromptTemplate: "Fix transcription errors in this speech-to-text output. " +
				"Correct misheard technical terms and punctuation, change nothing else, " +
				"and reply with the corrected text only.\n\nOriginal: \"{text}\"\nCorrected:",
			MaxTokens:         150,
			Temperature:       0.1,
			TimeoutMS:         8000,
			FallbackOnTimeout: true,
		},
		Text: TextConfig{
			TypingDelayMS: 10,
			TypeCmd:       CommandConfig{Raw: typeCmd, Argv: mustParseArgv(typeCmd)},
			ClipboardCmd:  CommandConfig{Raw: clipboardCmd, Argv: mustParseArgv(clipboardCmd)},
		},
		Notify: NotifyConfig{
			Enable:  true,
			AppName: "tomchat",
		},
	}
}
