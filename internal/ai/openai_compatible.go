package ai

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
)

const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatConfig selects the model for one call; pipelines use different
// models and temperatures for cleaning, parsing and answering.
type ChatConfig struct {
	Model       string
	Temperature float32
}

// Client talks to any OpenAI-compatible chat endpoint, Ollama's /v1 included.
type Client struct {
	client *openai.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{client: openai.NewClientWithConfig(cfg)}
}

func (c *Client) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", goerr.New("no messages for llm request")
	}

	req := openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", goerr.Wrap(err, "llm request failed", goerr.V("model", cfg.Model))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("empty llm choices", goerr.V("model", cfg.Model))
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// StripThinking removes reasoning blocks emitted by thinking models. An
// unterminated block keeps only what follows the last closing tag.
func StripThinking(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes a surrounding markdown code fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
