// Package llm provides a thin collaborator interface over whatever language
// model answers a cycle's trading prompt, plus a retry wrapper for
// transient provider errors. No vendor SDK is imported here: a concrete
// provider is wired in at the entrypoint behind the Completer interface.
package llm

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"
)

// Completer answers a system/user prompt pair with raw model text.
// Implementations are expected to be stateless and safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// RetryingCompleter wraps a Completer with exponential backoff on
// transient (network/rate-limit) errors.
type RetryingCompleter struct {
	inner        Completer
	maxRetries   int
	retryBackoff time.Duration
}

// NewRetryingCompleter wraps inner with the given retry budget. Zero values
// fall back to 3 retries / 250ms initial backoff.
func NewRetryingCompleter(inner Completer, maxRetries int, retryBackoff time.Duration) *RetryingCompleter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 250 * time.Millisecond
	}
	return &RetryingCompleter{inner: inner, maxRetries: maxRetries, retryBackoff: retryBackoff}
}

// Complete calls the wrapped Completer, retrying transient errors with
// exponential backoff up to maxRetries attempts.
func (r *RetryingCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.retryBackoff * time.Duration(1<<(attempt-1))
			log.Printf("[LLM] retrying completion (attempt %d/%d) after %v: %v", attempt, r.maxRetries, backoff, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := r.inner.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", lastErr
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "timeout", "rate limit", "temporary failure", "eof", "i/o timeout", "429", "503"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
