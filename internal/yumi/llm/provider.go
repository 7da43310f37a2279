// Package llm talks to the language model: the Completer backends (an
// Ollama-style generate endpoint and OpenAI-compatible chat completions) and
// the Generator that turns a persona prompt, facts and history into a
// validated reply with bounded retries and fixed fallback strings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrEmptyResponse is returned by a backend whose reply carries no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrValidation marks a reply rejected by the Generator's output checks.
var ErrValidation = errors.New("llm: response failed validation")

// Request is a single completion call.
type Request struct {
	// System is the persona and behaviour prompt.
	System string
	// Prompt is the context block followed by the user's message.
	Prompt string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens bounds the reply length; zero leaves it to the backend.
	MaxTokens int
}

// Completer submits a prompt and waits for the model's text.
//
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx HTTP reply from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: HTTP %d: %.200s", e.Code, e.Body)
}

// IsTimeout reports whether err stems from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
