package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces provider calls out to a per-minute budget.
// A 429 drains the bucket until the provider's Retry-After has passed.
type RateLimiter struct {
	limiter           *rate.Limiter
	requestsPerMinute int

	totalConsumed atomic.Int64
	totalWaitedNs atomic.Int64

	mu          sync.Mutex
	last429Time time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Utilization     float64       `json:"utilization"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter allowing requestsPerMinute calls, with the
// full minute's budget available as burst.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	every := time.Minute / time.Duration(requestsPerMinute)
	return &RateLimiter{
		limiter:           rate.NewLimiter(rate.Every(every), requestsPerMinute),
		requestsPerMinute: requestsPerMinute,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	r.totalConsumed.Add(1)
	r.totalWaitedNs.Add(int64(time.Since(start)))
	return nil
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	if !r.limiter.Allow() {
		return false
	}
	r.totalConsumed.Add(1)
	return true
}

// Record429 notes a rate-limit response. With a retryAfter the bucket is
// emptied so the next caller waits at least that long.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	r.last429Time = time.Now()
	r.mu.Unlock()

	if retryAfter <= 0 {
		return
	}
	now := time.Now()
	tokens := int(r.limiter.TokensAt(now))
	if tokens > 0 {
		r.limiter.ReserveN(now, tokens)
	}
	// Reserve the refill that would happen during retryAfter too.
	refill := int(float64(r.limiter.Limit()) * retryAfter.Seconds())
	for refill > 0 {
		n := min(refill, r.limiter.Burst())
		r.limiter.ReserveN(now, n)
		refill -= n
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	tokens := r.limiter.Tokens()
	if tokens < 0 {
		tokens = 0
	}
	utilization := 1.0 - tokens/float64(r.requestsPerMinute)
	if utilization < 0 {
		utilization = 0
	}

	r.mu.Lock()
	last := r.last429Time
	r.mu.Unlock()

	return RateLimiterStatus{
		TokensAvailable: int(tokens),
		TokensLimit:     r.requestsPerMinute,
		Utilization:     utilization,
		TotalConsumed:   r.totalConsumed.Load(),
		TotalWaited:     time.Duration(r.totalWaitedNs.Load()),
		Last429Time:     last,
	}
}

// RateLimitedLLM wraps an LLMClient with a RateLimiter.
type RateLimitedLLM struct {
	LLMClient
	limiter *RateLimiter
}

// NewRateLimitedLLM wraps client. A nil limiter returns client unchanged.
func NewRateLimitedLLM(client LLMClient, limiter *RateLimiter) LLMClient {
	if limiter == nil {
		return client
	}
	return &RateLimitedLLM{LLMClient: client, limiter: limiter}
}

func (c *RateLimitedLLM) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.LLMClient.Chat(ctx, req)
	if rl, ok := IsRateLimitError(err); ok {
		c.limiter.Record429(rl.RetryAfter)
	}
	return result, err
}

// Limiter exposes the wrapped limiter for status reporting.
func (c *RateLimitedLLM) Limiter() *RateLimiter {
	return c.limiter
}

// RateLimitedImage wraps an ImageGenerator with a RateLimiter.
type RateLimitedImage struct {
	ImageGenerator
	limiter *RateLimiter
}

// NewRateLimitedImage wraps gen. A nil limiter returns gen unchanged.
func NewRateLimitedImage(gen ImageGenerator, limiter *RateLimiter) ImageGenerator {
	if limiter == nil {
		return gen
	}
	return &RateLimitedImage{ImageGenerator: gen, limiter: limiter}
}

func (c *RateLimitedImage) Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := c.ImageGenerator.Generate(ctx, req)
	if rl, ok := IsRateLimitError(err); ok {
		c.limiter.Record429(rl.RetryAfter)
	}
	return result, err
}

// Limiter exposes the wrapped limiter for status reporting.
func (c *RateLimitedImage) Limiter() *RateLimiter {
	return c.limiter
}
