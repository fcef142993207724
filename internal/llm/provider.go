// Package llm abstracts the two OpenAI-compatible chat endpoints (fast
// router and quality finalizer) behind a minimal interface so any local or
// cloud backend can be adapted.
package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the minimal interface needed by core logic to call a chat model.
// It intentionally mirrors the CreateChatCompletion method of the OpenAI SDK
// so stubs are trivial in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is an optional capability used by the availability probe.
// Providers that do not support it are probed with a one-token chat call.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Usage carries token accounting from a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply is the detailed result of one chat call.
type Reply struct {
	Content string
	Usage   Usage
}

// Provider binds a Client to a concrete model and backend identity and adds
// the detailed-chat and cached-availability contract the brain consumes.
type Provider struct {
	Client  Client
	Model   string
	Backend string // "vllm" or "gemini", used in metrics rows

	// ProbeTimeout bounds the health-check call. AvailabilityTTL is how long
	// a probe result is trusted before re-probing.
	ProbeTimeout    time.Duration
	AvailabilityTTL time.Duration

	mu          sync.Mutex
	probedAt    time.Time
	probeResult bool
}

// ChatDetailed performs a single chat completion and returns the assistant
// content with token usage.
func (p *Provider) ChatDetailed(ctx context.Context, messages []openai.ChatCompletionMessage, temperature float32, maxTokens int) (Reply, error) {
	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		N:           1,
	})
	if err != nil {
		return Reply{}, err
	}
	var content string
	if len(resp.Choices) > 0 {
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	return Reply{
		Content: content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// IsAvailable reports whether the backend answers a health probe within the
// configured timeout. Results are cached for AvailabilityTTL so per-turn
// gating does not pay the probe cost.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	ttl := p.AvailabilityTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	p.mu.Lock()
	if !p.probedAt.IsZero() && time.Since(p.probedAt) < ttl {
		ok := p.probeResult
		p.mu.Unlock()
		return ok
	}
	p.mu.Unlock()

	timeout := p.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok := false
	if lister, can := p.Client.(ModelLister); can {
		_, err := lister.ListModels(probeCtx)
		ok = err == nil
	} else {
		_, err := p.Client.CreateChatCompletion(probeCtx, openai.ChatCompletionRequest{
			Model:     p.Model,
			Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
			MaxTokens: 1,
		})
		ok = err == nil
	}

	p.mu.Lock()
	p.probedAt = time.Now()
	p.probeResult = ok
	p.mu.Unlock()
	return ok
}

// InvalidateAvailability drops the cached probe result. Tests and failover
// paths use this to force a fresh probe.
func (p *Provider) InvalidateAvailability() {
	p.mu.Lock()
	p.probedAt = time.Time{}
	p.mu.Unlock()
}

// NewOpenAIClient builds a go-openai client for an OpenAI-compatible base
// URL. An empty key is replaced with a placeholder accepted by local
// backends such as vLLM.
func NewOpenAIClient(baseURL, apiKey string) *openai.Client {
	if strings.TrimSpace(apiKey) == "" {
		apiKey = "sk-local"
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}
