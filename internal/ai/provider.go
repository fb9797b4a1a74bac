package ai

import (
	"context"
	"errors"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single LLM vendor client. Implementations must be safe for
// concurrent use.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// ProviderError marks a failure of the vendor call itself (HTTP error, auth
// failure, timeout). Callers distinguish it from pipeline errors with errors.As.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: name, Err: err}
}

func providerErrf(name, format string, args ...any) error {
	return &ProviderError{Provider: name, Err: fmt.Errorf(format, args...)}
}

// IsProviderError reports whether err (or anything it wraps) came from a
// vendor call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
