// Package llm is the narrow port to language-model providers. The
// simulation depends only on the Client interface; everything else here
// is model metadata, cost accounting and response repair.
package llm

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var (
	ErrNoProvider = errors.New("no llm provider configured")
	ErrThrottled  = errors.New("llm call rejected by rate limiter")
)

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// Response carries the completion plus the token usage needed for cost
// accounting.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Client is implemented per provider.
type Client interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ModelInfo is the registry entry for one model.
type ModelInfo struct {
	Provider         string
	CentsPer1kInput  int64 // hundredths of a cent, to keep cheap models nonzero
	CentsPer1kOutput int64
	MaxTokens        int
	SupportsJSONMode bool
}

// registry maps model id to pricing and capability metadata. Prices are in
// hundredths of a cent per 1k tokens.
var registry = map[string]ModelInfo{
	"gpt-4o-mini":       {Provider: "openai", CentsPer1kInput: 2, CentsPer1kOutput: 6, MaxTokens: 16384, SupportsJSONMode: true},
	"gpt-4o":            {Provider: "openai", CentsPer1kInput: 25, CentsPer1kOutput: 100, MaxTokens: 16384, SupportsJSONMode: true},
	"deepseek-chat":     {Provider: "deepseek", CentsPer1kInput: 3, CentsPer1kOutput: 11, MaxTokens: 8192, SupportsJSONMode: true},
	"gemini-2.0-flash":  {Provider: "google", CentsPer1kInput: 1, CentsPer1kOutput: 4, MaxTokens: 8192, SupportsJSONMode: true},
	"llama-3.1-8b":      {Provider: "groq", CentsPer1kInput: 1, CentsPer1kOutput: 1, MaxTokens: 8192, SupportsJSONMode: false},
	"qwen-2.5-72b":      {Provider: "openrouter", CentsPer1kInput: 4, CentsPer1kOutput: 12, MaxTokens: 8192, SupportsJSONMode: false},
}

const defaultModel = "gpt-4o-mini"

// Lookup returns the registry entry for a model, falling back to the
// default when the id is unknown.
func Lookup(model string) (string, ModelInfo) {
	if info, ok := registry[model]; ok {
		return model, info
	}
	return defaultModel, registry[defaultModel]
}

// CalculateCost returns the call cost in cents, rounded up so sustained
// usage is never under-billed.
func CalculateCost(model string, inputTokens, outputTokens int) int64 {
	_, info := Lookup(model)
	hundredths := info.CentsPer1kInput*int64(inputTokens) + info.CentsPer1kOutput*int64(outputTokens)
	// hundredths-of-a-cent per 1k tokens -> cents
	return (hundredths + 100_000 - 1) / 100_000
}

// Throttled wraps a client with a process-wide rate limit. Calls that
// cannot get a slot immediately fail fast with ErrThrottled instead of
// stalling the tick pipeline.
type Throttled struct {
	inner   Client
	limiter *rate.Limiter
}

// NewThrottled wraps inner with a limiter of callsPerSec and burst.
func NewThrottled(inner Client, callsPerSec float64, burst int) *Throttled {
	return &Throttled{inner: inner, limiter: rate.NewLimiter(rate.Limit(callsPerSec), burst)}
}

func (t *Throttled) Call(ctx context.Context, req Request) (*Response, error) {
	if t.inner == nil {
		return nil, ErrNoProvider
	}
	if !t.limiter.Allow() {
		return nil, ErrThrottled
	}
	return t.inner.Call(ctx, req)
}
