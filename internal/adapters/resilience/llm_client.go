package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// CallConfig holds the retry and throttling parameters applied to every
// reasoning-service call.
type CallConfig struct {
	// MaxAttempts bounds how often a failing call is retried in-place
	// before the error surfaces to the durable retry queue.
	MaxAttempts int
	// BackoffBase is the delay after the first failed attempt; it doubles
	// per attempt up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// BackoffJitter is the upper bound of the random extra delay added to
	// each backoff sleep.
	BackoffJitter time.Duration
	// MinInterval is the minimum spacing between consecutive calls,
	// enforced across analyze and reply traffic.
	MinInterval time.Duration
}

// DefaultCallConfig returns the default call calibration.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffMax:    8 * time.Second,
		BackoffJitter: 250 * time.Millisecond,
		MinInterval:   500 * time.Millisecond,
	}
}

func (c CallConfig) sanitized() CallConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	return c
}

// LLMClient decorates a provider client with bounded in-call retry,
// exponential backoff with jitter, and minimum inter-call spacing. Only
// once the attempts are exhausted does the failure surface to callers.
type LLMClient struct {
	inner  core.LLMClient
	cfg    CallConfig
	logger *zap.Logger

	mu       sync.Mutex
	lastCall time.Time

	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration)
	jitter func(max time.Duration) time.Duration
}

// Wrap decorates the given provider client.
func Wrap(inner core.LLMClient, cfg CallConfig, logger *zap.Logger) *LLMClient {
	return &LLMClient{
		inner:  inner,
		cfg:    cfg.sanitized(),
		logger: logger,
		now:    time.Now,
		wait:   sleepContext,
		jitter: randomJitter,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

// throttle enforces the minimum spacing between calls. The lock is held
// across the sleep so concurrent callers queue up behind it.
func (c *LLMClient) throttle(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := c.cfg.MinInterval - c.now().Sub(c.lastCall); wait > 0 {
		c.wait(ctx, wait)
	}
	c.lastCall = c.now()
}

func (c *LLMClient) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	if delay > c.cfg.BackoffMax {
		delay = c.cfg.BackoffMax
	}
	return delay
}

// call runs op with throttling and bounded retry, returning the last
// error once attempts are exhausted or the context ends.
func (c *LLMClient) call(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		c.throttle(ctx)
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= c.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		delay := c.backoffDelay(attempt) + c.jitter(c.cfg.BackoffJitter)
		c.logger.Warn("Reasoning-service call failed, backing off",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		c.wait(ctx, delay)
	}
	return lastErr
}

// AnalyzeEmail implements core.LLMClient.
func (c *LLMClient) AnalyzeEmail(ctx context.Context, email *core.Email) (*core.Analysis, error) {
	var analysis *core.Analysis
	err := c.call(ctx, "analyze", func(ctx context.Context) error {
		var err error
		analysis, err = c.inner.AnalyzeEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// GenerateReply implements core.LLMClient.
func (c *LLMClient) GenerateReply(ctx context.Context, email *core.Email, analysis *core.Analysis) (*core.ReplyDraft, error) {
	var draft *core.ReplyDraft
	err := c.call(ctx, "reply", func(ctx context.Context) error {
		var err error
		draft, err = c.inner.GenerateReply(ctx, email, analysis)
		return err
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// Close releases the wrapped client's resources when it holds any.
func (c *LLMClient) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
