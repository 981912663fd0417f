package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gwi.com/sqlrag/internal/config"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is the capability set every generation backend implements.
type Provider interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream returns a single-use sequence of response fragments in arrival order. The request
	// is sent when iteration starts; a failure is yielded as the final element.
	ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error]

	// Name returns the provider name.
	Name() string

	Close() error
}

// GenerationError wraps every failure coming from a backend.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

var (
	ErrStreamConsumed    = errors.New("stream already consumed")
	ErrContextOverflow   = errors.New("prompt exceeds context window")
	ErrEmptyConversation = errors.New("no messages to send")
)

// NewProvider builds the backend selected by cfg.LLMProvider.
func NewProvider(ctx context.Context, cfg config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.LLMModel, cfg.ContextWindow), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.LLMModel, cfg.ContextWindow)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel, cfg.ContextWindow)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// estimateTokens uses the usual four-characters-per-token approximation.
func estimateTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)/4 + 4
	}
	return n
}

// checkContextWindow bounds hosted backends, which have no num_ctx option, by the configured window.
func checkContextWindow(messages []Message, window int) error {
	if len(messages) == 0 {
		return ErrEmptyConversation
	}
	if window > 0 {
		if n := estimateTokens(messages); n > window {
			return fmt.Errorf("%w: ~%d tokens > %d", ErrContextOverflow, n, window)
		}
	}
	return nil
}

// onceSeq makes seq non-restartable: a second iteration yields ErrStreamConsumed.
func onceSeq(provider string, seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	used := false
	return func(yield func(string, error) bool) {
		if used {
			yield("", &GenerationError{Provider: provider, Err: ErrStreamConsumed})
			return
		}
		used = true
		seq(yield)
	}
}
