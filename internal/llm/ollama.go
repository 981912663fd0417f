package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider talks to a local Ollama server through its native API, which unlike the
// OpenAI-compatible endpoint accepts a num_ctx option.
type OllamaProvider struct {
	baseURL       string
	model         string
	contextWindow int
	client        *http.Client
}

func NewOllamaProvider(baseURL, model string, contextWindow int) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	// No overall timeout: generation and pulls may legitimately take minutes.
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 300 * time.Second,
		},
	}

	return &OllamaProvider{
		baseURL:       strings.TrimRight(baseURL, "/"),
		model:         model,
		contextWindow: contextWindow,
		client:        client,
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	Error     string        `json:"error,omitempty"`
}

func (p *OllamaProvider) fail(err error) error {
	return &GenerationError{Provider: p.Name(), Err: err}
}

func (p *OllamaProvider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func (p *OllamaProvider) request(messages []Message, stream bool) ollamaChatRequest {
	ollamaMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return ollamaChatRequest{
		Model:    p.model,
		Messages: ollamaMessages,
		Stream:   stream,
		Options:  ollamaOptions{NumCtx: p.contextWindow},
	}
}

// Chat implements non-streaming chat
func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", p.fail(ErrEmptyConversation)
	}
	resp, err := p.post(ctx, "/api/chat", p.request(messages, false))
	if err != nil {
		return "", p.fail(err)
	}
	defer resp.Body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", p.fail(fmt.Errorf("failed to decode response: %w", err))
	}
	if chatResp.Error != "" {
		return "", p.fail(fmt.Errorf("ollama error: %s", chatResp.Error))
	}
	return chatResp.Message.Content, nil
}

// ChatStream implements streaming chat over Ollama's newline-delimited JSON responses.
func (p *OllamaProvider) ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return onceSeq(p.Name(), func(yield func(string, error) bool) {
		if len(messages) == 0 {
			yield("", p.fail(ErrEmptyConversation))
			return
		}
		resp, err := p.post(ctx, "/api/chat", p.request(messages, true))
		if err != nil {
			yield("", p.fail(err))
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chatResp ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chatResp); err != nil {
				yield("", p.fail(fmt.Errorf("failed to parse response: %w", err)))
				return
			}
			if chatResp.Error != "" {
				yield("", p.fail(fmt.Errorf("ollama error: %s", chatResp.Error)))
				return
			}
			if chatResp.Message.Content != "" {
				if !yield(chatResp.Message.Content, nil) {
					return
				}
			}
			if chatResp.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", p.fail(fmt.Errorf("scanner error: %w", err)))
		}
	})
}

// PullProgress is one status line of a model download.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Pull downloads the configured model. progress, when non-nil, receives every status line.
func (p *OllamaProvider) Pull(ctx context.Context, progress func(PullProgress)) error {
	resp, err := p.post(ctx, "/api/pull", map[string]any{"model": p.model, "stream": true})
	if err != nil {
		return p.fail(fmt.Errorf("pull %s: %w", p.model, err))
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var line PullProgress
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return p.fail(fmt.Errorf("failed to parse pull progress: %w", err))
		}
		if line.Error != "" {
			return p.fail(fmt.Errorf("pull %s: %s", p.model, line.Error))
		}
		if progress != nil {
			progress(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return p.fail(fmt.Errorf("scanner error: %w", err))
	}
	return nil
}

func (p *OllamaProvider) Name() string {
	return "ollama/" + p.model
}

func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
