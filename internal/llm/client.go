// Package llm provides reasoning-provider clients for transaction research.
package llm

import "context"

// Client sends a prompt to a reasoning provider and returns its raw text reply.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds provider settings.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}
