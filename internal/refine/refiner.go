// Package refine runs the optional LLM cleanup pass over raw transcripts.
package refine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tomchat/tomchat/internal/config"
)

const textPlaceholder = "{text}"

// completer issues one chat completion. Satisfied by the OpenAI-compatible
// client; tests substitute a stub.
type completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Refiner cleans up a raw transcript through a local model. Refinement never
// fails a session: on any error, timeout, or empty reply the raw text wins.
type Refiner struct {
	cfg    config.RefinementConfig
	client completer
	logger *slog.Logger
}

// New builds a Refiner against the configured OpenAI-compatible endpoint.
// Ollama exposes one at <endpoint>/v1.
func New(cfg config.RefinementConfig, logger *slog.Logger) *Refiner {
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(cfg.Endpoint, "/")+"/v1"),
		option.WithAPIKey("ollama"),
	)
	return newRefiner(cfg, &openaiCompleter{client: client, model: cfg.ModelName}, logger)
}

func newRefiner(cfg config.RefinementConfig, client completer, logger *slog.Logger) *Refiner {
	return &Refiner{cfg: cfg, client: client, logger: logger}
}

// Refine returns the cleaned transcript, or raw unchanged when refinement
// cannot improve on it in time.
func (r *Refiner) Refine(ctx context.Context, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}

	prompt := strings.ReplaceAll(r.cfg.PromptTemplate, textPlaceholder, raw)
	maxTokens := r.maxTokensFor(raw)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	started := time.Now()
	refined, err := r.client.Complete(ctx, prompt, maxTokens, r.cfg.Temperature)
	if err != nil {
		if ctx.Err() != nil {
			level := slog.LevelWarn
			if !r.cfg.FallbackOnTimeout {
				level = slog.LevelError
			}
			r.logger.Log(ctx, level, "refinement timed out, using raw transcript",
				"elapsed_ms", time.Since(started).Milliseconds())
		} else {
			r.logger.Warn("refinement failed, using raw transcript", "error", err)
		}
		return raw
	}

	refined = strings.TrimSpace(refined)
	if refined == "" {
		r.logger.Warn("refinement returned empty text, using raw transcript")
		return raw
	}

	r.logger.Info("refinement complete",
		"elapsed_ms", time.Since(started).Milliseconds(),
		"raw_chars", len(raw),
		"refined_chars", len(refined),
	)
	return refined
}

// maxTokensFor bounds the reply budget by the input size so short utterances
// cannot balloon into paragraphs.
func (r *Refiner) maxTokensFor(raw string) int {
	budget := len(strings.Fields(raw)) + 50
	if r.cfg.MaxTokens > 0 && budget > r.cfg.MaxTokens {
		return r.cfg.MaxTokens
	}
	return budget
}

// openaiCompleter adapts the OpenAI chat API to the completer interface.
type openaiCompleter struct {
	client openai.Client
	model  string
}

func (c *openaiCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
