package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider serves OpenAI and any server speaking its chat completions API.
type OpenAIProvider struct {
	client        *openai.Client
	model         string
	contextWindow int
}

func NewOpenAIProvider(apiKey, baseURL, model string, contextWindow int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:        openai.NewClientWithConfig(clientConfig),
		model:         model,
		contextWindow: contextWindow,
	}, nil
}

func (p *OpenAIProvider) fail(err error) error {
	return &GenerationError{Provider: p.Name(), Err: err}
}

func (p *OpenAIProvider) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: openaiMessages,
		Stream:   stream,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := checkContextWindow(messages, p.contextWindow); err != nil {
		return "", p.fail(err)
	}
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, false))
	if err != nil {
		return "", p.fail(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", p.fail(errors.New("empty chat completion choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return onceSeq(p.Name(), func(yield func(string, error) bool) {
		if err := checkContextWindow(messages, p.contextWindow); err != nil {
			yield("", p.fail(err))
			return
		}
		stream, err := p.client.CreateChatCompletionStream(ctx, p.request(messages, true))
		if err != nil {
			yield("", p.fail(fmt.Errorf("failed to create stream: %w", err)))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", p.fail(fmt.Errorf("stream error: %w", err)))
				return
			}
			if len(response.Choices) > 0 {
				if content := response.Choices[0].Delta.Content; content != "" {
					if !yield(content, nil) {
						return
					}
				}
			}
		}
	})
}

func (p *OpenAIProvider) Name() string {
	return "openai/" + p.model
}

func (p *OpenAIProvider) Close() error { return nil }
