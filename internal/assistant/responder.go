package assistant

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Responder produces a model reply for an assembled prompt. The service
// accepts any implementation; production wires a langchaingo-backed model,
// tests substitute a static one.
type Responder interface {
	Respond(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// OpenAIResponder calls an OpenAI-compatible chat completion endpoint.
type OpenAIResponder struct {
	llm llms.Model
}

// NewOpenAIResponder builds a responder for the given model. An empty
// apiKey defers to the OPENAI_API_KEY environment variable; baseURL and
// client override the endpoint and HTTP transport when set.
func NewOpenAIResponder(apiKey, model, baseURL string, client *http.Client) (*OpenAIResponder, error) {
	opts := []openai.Option{openai.WithModel(model)}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if client != nil {
		opts = append(opts, openai.WithHTTPClient(client))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize model client: %w", err)
	}
	return &OpenAIResponder{llm: llm}, nil
}

// Respond sends the messages and returns the first choice's text.
func (r *OpenAIResponder) Respond(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := r.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// StaticResponder replies with a fixed string. Tests use it to exercise the
// chat pipeline without a live model.
type StaticResponder struct {
	Reply string
	Err   error

	// Received records every prompt handed to the responder.
	Received [][]llms.MessageContent
}

// Respond returns the configured reply or error.
func (r *StaticResponder) Respond(_ context.Context, messages []llms.MessageContent) (string, error) {
	r.Received = append(r.Received, messages)
	if r.Err != nil {
		return "", r.Err
	}
	return r.Reply, nil
}
