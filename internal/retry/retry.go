// Package retry wraps the translation client with bounded retry and
// exponential backoff for transient provider failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"streamsub/internal/deepl"
	"streamsub/pkg/log"
)

// BatchTranslator is the outbound translation contract the controller
// decorates. deepl.Client satisfies it.
type BatchTranslator interface {
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)
}

// retryableStatuses are provider failures worth another attempt: payload
// too large, rate limiting, and provider-side outages.
var retryableStatuses = map[int]bool{
	413: true,
	429: true,
	503: true,
	504: true,
	529: true,
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
)

// Controller retries transient failures with exponential backoff and
// jitter. Growth-with-jitter is load-bearing here: multiple failing
// batches must not fall into lockstep against a shared rate limit.
type Controller struct {
	translator  BatchTranslator
	maxAttempts int
	baseDelay   time.Duration
}

func NewController(translator BatchTranslator, maxAttempts int, baseDelay time.Duration) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Controller{
		translator:  translator,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// TranslateBatch attempts the wrapped call up to maxAttempts times.
// Terminal failures (non-retryable status, or anything without a status
// code) surface immediately; exhausted retries surface the last error.
func (c *Controller) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		out, err := c.translator.TranslateBatch(ctx, texts, sourceLang, targetLang)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == c.maxAttempts-1 {
			break
		}
		delay := c.backoff(attempt)
		log.Warn("Transient translation failure (attempt %d/%d), retrying in %v: %v",
			attempt+1, c.maxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", c.maxAttempts, lastErr)
}

// backoff is baseDelay × 2^attempt plus uniform jitter in [0, delay/2).
func (c *Controller) backoff(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if half := int64(delay / 2); half > 0 {
		delay += time.Duration(rand.Int63n(half))
	}
	return delay
}

// Retryable reports whether err is a transient provider failure. Failures
// without an HTTP status (network, parsing) carry no retry signal and are
// terminal for the call.
func Retryable(err error) bool {
	var apiErr *deepl.APIError
	if errors.As(err, &apiErr) {
		return retryableStatuses[apiErr.StatusCode]
	}
	return false
}
