package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client        *genai.Client
	model         string
	contextWindow int
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, contextWindow int) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{
		client:        client,
		model:         model,
		contextWindow: contextWindow,
	}, nil
}

func (p *GeminiProvider) Close() error {
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		log.Printf("Error closing GenAI client: %v", err)
		return err
	}
	log.Println("GenAI client closed.")
	return nil
}

func (p *GeminiProvider) fail(err error) error {
	return &GenerationError{Provider: p.Name(), Err: err}
}

// session maps the system messages onto the model's system instruction, all turns but the last
// onto the chat history, and returns the parts of the last turn to send.
func (p *GeminiProvider) session(messages []Message) (*genai.ChatSession, []genai.Part, error) {
	if err := checkContextWindow(messages, p.contextWindow); err != nil {
		return nil, nil, err
	}

	model := p.client.GenerativeModel(p.model)

	var system []string
	var history []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}

	if len(history) == 0 {
		return nil, nil, ErrEmptyConversation
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return nil, nil, fmt.Errorf("last message is not from 'user', cannot proceed with chat completion")
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	return chatSession, last.Parts, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	chatSession, parts, err := p.session(messages)
	if err != nil {
		return "", p.fail(err)
	}

	resp, err := chatSession.SendMessage(ctx, parts...)
	if err != nil {
		return "", p.fail(fmt.Errorf("gemini chat SendMessage failed: %w", err))
	}
	text := responseText(resp)
	if text == "" {
		return "", p.fail(errors.New("gemini response was empty or had no text parts"))
	}
	return text, nil
}

func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return onceSeq(p.Name(), func(yield func(string, error) bool) {
		chatSession, parts, err := p.session(messages)
		if err != nil {
			yield("", p.fail(err))
			return
		}

		it := chatSession.SendMessageStream(ctx, parts...)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", p.fail(fmt.Errorf("gemini stream failed: %w", err)))
				return
			}
			if text := responseText(resp); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	})
}

func (p *GeminiProvider) Name() string {
	return "gemini/" + p.model
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return b.String()
}
