package devrun

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Option modifies the flush pipeline for reliability features.
// None are installed by default: a failed flush is put back in the queue
// and waits for the next flush.
type Option func(pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest]

// WithRetry adds retry logic to the pipeline.
// Failed sends are retried up to maxAttempts times.
func WithRetry(maxAttempts int) Option {
	return func(pipeline pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest] {
		return pipz.NewRetry("retry", pipeline, maxAttempts)
	}
}

// WithBackoff adds retry logic with exponential backoff to the pipeline.
// The delay starts at baseDelay and doubles after each failure.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(pipeline pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest] {
		return pipz.NewBackoff("backoff", pipeline, maxAttempts, baseDelay)
	}
}

// WithTimeout bounds a whole flush, retries included.
func WithTimeout(duration time.Duration) Option {
	return func(pipeline pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest] {
		return pipz.NewTimeout("timeout", pipeline, duration)
	}
}

// WithCircuitBreaker adds circuit breaker protection to the pipeline.
// After 'failures' consecutive failures, the circuit opens for 'recovery' duration.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(pipeline pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest] {
		return pipz.NewCircuitBreaker("circuit-breaker", pipeline, failures, recovery)
	}
}

// WithRateLimit adds rate limiting to the pipeline.
// rps = flushes per second, burst = burst capacity.
func WithRateLimit(rps float64, burst int) Option {
	return func(pipeline pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest] {
		rateLimiter := pipz.NewRateLimiter[*FlushRequest]("rate-limit", rps, burst)
		return pipz.NewSequence("rate-limited", rateLimiter, pipeline)
	}
}

// WithErrorHandler adds error handling to the pipeline.
// The handler receives the failed flush and can log or alert; the flush
// still fails.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*FlushRequest]]) Option {
	return func(pipeline pipz.Chainable[*FlushRequest]) pipz.Chainable[*FlushRequest] {
		return pipz.NewHandle("error-handler", pipeline, handler)
	}
}

// newSendPipeline creates the terminal processor that hands a batch to the client.
func newSendPipeline(client Client) pipz.Chainable[*FlushRequest] {
	return pipz.Apply("send-moves", func(ctx context.Context, req *FlushRequest) (*FlushRequest, error) {
		return req, client.SendMoves(ctx, req.MoveRequest())
	})
}

// buildPipeline wraps the send processor with opts, first option innermost.
func buildPipeline(client Client, opts ...Option) pipz.Chainable[*FlushRequest] {
	pipeline := newSendPipeline(client)
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}
