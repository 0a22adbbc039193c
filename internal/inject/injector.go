// Package inject delivers transcript text to the focused window as keystrokes,
// with the clipboard as a fallback path.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tomchat/tomchat/internal/config"
)

const delayPlaceholder = "{delay_ms}"

// Injector types transcript text via a configurable argv command. When the
// type command fails, the text is parked on the clipboard instead so a
// dictation is never silently lost.
type Injector struct {
	typeArgv      []string
	clipboardArgv []string
	logger        *slog.Logger
}

// New expands the {delay_ms} placeholder in the type command up front.
func New(cfg config.TextConfig, logger *slog.Logger) *Injector {
	return &Injector{
		typeArgv:      expandDelay(cfg.TypeCmd.Argv, cfg.TypingDelayMS),
		clipboardArgv: cfg.ClipboardCmd.Argv,
		logger:        logger,
	}
}

// Inject types text into the focused window. The text arrives on the type
// command's stdin. On failure the clipboard fallback runs before the error
// is returned.
func (i *Injector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	typeCtx, cancel := context.WithTimeout(ctx, injectTimeout(text))
	defer cancel()
	if err := runCommandWithInput(typeCtx, i.typeArgv, text); err != nil {
		i.logger.Error("keystroke injection failed, copying to clipboard", "error", err.Error())
		i.copyToClipboard(ctx, text)
		return fmt.Errorf("inject text: %w", err)
	}

	i.logger.Info("text injected", "chars", len(text))
	return nil
}

// copyToClipboard is best effort; its own failure is only logged.
func (i *Injector) copyToClipboard(ctx context.Context, text string) {
	if len(i.clipboardArgv) == 0 {
		return
	}
	clipCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := runCommandWithInput(clipCtx, i.clipboardArgv, text); err != nil {
		i.logger.Error("clipboard fallback failed", "error", err.Error())
		return
	}
	i.logger.Info("transcript copied to clipboard")
}

// injectTimeout budgets for per-keystroke delays on long transcripts.
func injectTimeout(text string) time.Duration {
	d := 5*time.Second + time.Duration(len(text))*20*time.Millisecond
	if d > 60*time.Second {
		return 60 * time.Second
	}
	return d
}

// expandDelay substitutes the typing delay into each argv token.
func expandDelay(argv []string, delayMS int) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, delayPlaceholder, strconv.Itoa(delayMS))
	}
	return out
}

// runCommandWithInput executes argv with input piped to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
