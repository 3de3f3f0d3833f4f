package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/knoguchi/agentic-rag/internal/retryx"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com"

// ClaudeClient implements LLM against Anthropic's Messages API.
type ClaudeClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// ClaudeOption configures a ClaudeClient.
type ClaudeOption func(*ClaudeClient)

func WithClaudeBaseURL(url string) ClaudeOption {
	return func(c *ClaudeClient) { c.baseURL = url }
}

func WithClaudeHTTPClient(client *http.Client) ClaudeOption {
	return func(c *ClaudeClient) { c.httpClient = client }
}

// NewClaudeClient builds a client for the given API key and default model.
func NewClaudeClient(apiKey, model string, opts ...ClaudeOption) *ClaudeClient {
	c := &ClaudeClient{
		baseURL:    defaultAnthropicBaseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	Content []claudeContentBlock `json:"content"`
	Usage   claudeUsage          `json:"usage"`
}

// Chat sends the message list to Claude, splitting out any leading
// system message since the Messages API carries it as a top-level field.
func (c *ClaudeClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error) {
	var out ChatResponse
	err := retryx.Do(ctx, func() error {
		resp, err := c.chatOnce(ctx, messages, opts)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *ClaudeClient) chatOnce(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	system, rest := splitSystem(messages)
	body, err := json.Marshal(claudeRequest{
		Model:       model,
		System:      system,
		Messages:    toClaudeMessages(rest),
		Temperature: opts.Temperature,
		MaxTokens:   maxTokensOrDefault(opts.MaxTokens),
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return ChatResponse{}, fmt.Errorf("claude API error (status %d): %s", resp.StatusCode, string(b))
	}

	var result claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}

	text := ""
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return ChatResponse{
		Text:         text,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}, nil
}

// ChatStream is not implemented for Claude in this adapter; callers that
// need token-by-token streaming should use the Ollama provider, or this
// falls back to a single chunk delivered after the full response.
func (c *ClaudeClient) ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (<-chan StreamChunk, error) {
	chunks := make(chan StreamChunk, 1)
	go func() {
		defer close(chunks)
		resp, err := c.Chat(ctx, messages, opts)
		if err != nil {
			chunks <- StreamChunk{Error: err, Done: true}
			return
		}
		chunks <- StreamChunk{Token: resp.Text, Done: true}
	}()
	return chunks, nil
}

func splitSystem(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

func toClaudeMessages(messages []Message) []claudeMessage {
	out := make([]claudeMessage, len(messages))
	for i, m := range messages {
		out[i] = claudeMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 2048
	}
	return n
}

var _ LLM = (*ClaudeClient)(nil)
