package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyResponse is returned when the model answers with no choices.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrNotSetAuth is returned when no API key is configured.
	ErrNotSetAuth = errors.New("llm: API key not set")
)

// Completer is the minimal surface the workflow steps need from a language
// model: one prompt in, one string out. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type options struct {
	apiKey  string
	baseURL string
	model   string
}

// Option configures an OpenAI-backed Completer.
type Option func(*options)

// WithAPIKey sets the API key, overriding the OPENAI_API_KEY environment
// variable.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel sets the model name. Defaults to gpt-4o-mini.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// OpenAI is a Completer backed by the OpenAI chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ Completer = (*OpenAI)(nil)

// New creates an OpenAI Completer. The API key is taken from WithAPIKey or
// the OPENAI_API_KEY environment variable.
func New(opts ...Option) (*OpenAI, error) {
	o := &options{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  openai.GPT4oMini,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf(`%w
You can pass auth info by using llm.New(llm.WithAPIKey("{API Key}"))
or
export OPENAI_API_KEY={API Key}`, ErrNotSetAuth)
	}

	cfg := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  o.model,
	}, nil
}

// Complete sends a chat completion request with temperature 0 so repeated
// runs over the same session stay as deterministic as the provider allows.
func (l *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
