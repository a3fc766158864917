package embeddings

import (
	"context"
	"os"
	"strings"
)

// Func embeds a single text. It is the capability the graph consumes;
// callers treat a failure as "no embedding" and carry on.
type Func func(ctx context.Context, text string) ([]float32, error)

// Provider defines a simple embeddings provider interface.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Adapt turns a Provider into the single-text Func the graph consumes.
// A nil provider yields a nil Func, which disables embedding.
func Adapt(p Provider) Func {
	if p == nil {
		return nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := p.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, nil
		}
		return vecs[0], nil
	}
}

// NewFromEnv constructs a provider based on environment variables.
// EMBEDDINGS_PROVIDER: "openai", "ollama", or empty for disabled.
func NewFromEnv() Provider {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDINGS_PROVIDER")))
	switch name {
	case "openai":
		return newOpenAIFromEnv()
	case "ollama":
		return newOllamaFromEnv()
	default:
		return nil
	}
}
