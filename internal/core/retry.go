package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds the operator-tunable retry queue parameters.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BatchSize   int
	// Interval is how often the background processor drains a batch.
	Interval time.Duration
}

// DefaultRetryConfig returns the default retry calibration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 8,
		BaseDelay:   15 * time.Second,
		MaxDelay:    3600 * time.Second,
		BatchSize:   10,
		Interval:    30 * time.Second,
	}
}

func (c RetryConfig) sanitized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay < time.Second {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < time.Second {
		c.MaxDelay = time.Second
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	return c
}

// retryPayload is the stored shape of a retry row's payload.
type retryPayload struct {
	Observed *Email `json:"observed"`
}

// RetryQueue persists failed decision attempts and replays them with
// exponential backoff until success or exhaustion. Rows are keyed by
// (email ID, operation, pending status); a new failure coalesces into the
// existing pending row.
type RetryQueue struct {
	repo   RetryRepository
	cfg    RetryConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRetryQueue creates a new retry queue.
func NewRetryQueue(repo RetryRepository, cfg RetryConfig, logger *zap.Logger) *RetryQueue {
	return &RetryQueue{
		repo:   repo,
		cfg:    cfg.sanitized(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NextDelay computes the backoff delay after the given attempt count.
// It grows exponentially from the first failure and is capped.
func (q *RetryQueue) NextDelay(attempts int) time.Duration {
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	delay := time.Duration(float64(q.cfg.BaseDelay) * math.Pow(2, float64(exp)))
	if delay > q.cfg.MaxDelay || delay <= 0 {
		delay = q.cfg.MaxDelay
	}
	return delay
}

// Enqueue records a failed attempt for later replay. An existing pending
// row for the same (email ID, operation) has its payload and error
// overwritten instead of creating a duplicate.
func (q *RetryQueue) Enqueue(ctx context.Context, email *Email, operation, errText string) error {
	if email == nil || email.ID == "" {
		return nil
	}
	if operation == "" {
		operation = OpAnalyzeAndExecute
	}
	payload, err := json.Marshal(retryPayload{Observed: email})
	if err != nil {
		return fmt.Errorf("failed to encode retry payload: %w", err)
	}
	now := q.now()

	pending, err := q.repo.FindPending(ctx, email.ID, operation)
	if err != nil {
		return fmt.Errorf("failed to look up pending retry: %w", err)
	}
	if pending != nil {
		pending.Payload = string(payload)
		if errText != "" {
			pending.LastError = errText
		}
		pending.UpdatedAt = now
		return q.repo.Update(ctx, pending)
	}

	return q.repo.Insert(ctx, &RetryItem{
		EmailID:     email.ID,
		Operation:   operation,
		Payload:     string(payload),
		Status:      RetryStatusPending,
		Attempts:    0,
		NextRetryAt: now,
		LastError:   errText,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (q *RetryQueue) markDone(ctx context.Context, item *RetryItem) error {
	item.Status = RetryStatusDone
	item.UpdatedAt = q.now()
	return q.repo.Update(ctx, item)
}

// scheduleRetry advances the row after a failed attempt: more backoff while
// attempts remain, terminal failed status once exhausted.
func (q *RetryQueue) scheduleRetry(ctx context.Context, item *RetryItem, errText string) error {
	item.Attempts++
	item.LastError = errText
	item.UpdatedAt = q.now()
	if item.Attempts >= q.cfg.MaxAttempts {
		item.Status = RetryStatusFailed
	} else {
		item.Status = RetryStatusPending
		item.NextRetryAt = q.now().Add(q.NextDelay(item.Attempts))
	}
	return q.repo.Update(ctx, item)
}

// Runner re-runs the decision path for a replayed email.
type Runner interface {
	RunStored(ctx context.Context, email *Email) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, email *Email) error

// RunStored implements Runner.
func (f RunnerFunc) RunStored(ctx context.Context, email *Email) error {
	return f(ctx, email)
}

// ProcessBatch replays due pending rows in creation order, up to the batch
// limit. A malformed or failing row is rescheduled with its own backoff and
// never aborts the rest of the batch. Returns the number of rows touched.
func (q *RetryQueue) ProcessBatch(ctx context.Context, runner Runner) (int, error) {
	rows, err := q.repo.Pending(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending retries: %w", err)
	}

	processed := 0
	now := q.now()
	for _, row := range rows {
		if processed >= q.cfg.BatchSize {
			break
		}
		if row.NextRetryAt.After(now) {
			continue
		}

		var payload retryPayload
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil || payload.Observed == nil || payload.Observed.ID == "" {
			if err := q.scheduleRetry(ctx, row, "retry payload invalid"); err != nil {
				q.logger.Error("Failed to reschedule malformed retry row",
					zap.Int64("retry_id", row.ID),
					zap.Error(err))
			}
			processed++
			continue
		}

		var runErr error
		if row.Operation == OpAnalyzeAndExecute || row.Operation == "analyze_and_draft" {
			runErr = runner.RunStored(ctx, payload.Observed)
		} else {
			runErr = fmt.Errorf("unsupported retry operation: %s", row.Operation)
		}

		if runErr == nil {
			if err := q.markDone(ctx, row); err != nil {
				q.logger.Error("Failed to mark retry row done",
					zap.Int64("retry_id", row.ID),
					zap.Error(err))
			}
		} else {
			if err := q.scheduleRetry(ctx, row, runErr.Error()); err != nil {
				q.logger.Error("Failed to reschedule retry row",
					zap.Int64("retry_id", row.ID),
					zap.Error(err))
			}
		}
		processed++
	}

	if processed > 0 {
		q.logger.Debug("Processed retry batch", zap.Int("processed", processed))
	}
	return processed, nil
}

// RetryProcessor drains the retry queue on a fixed interval until stopped.
type RetryProcessor struct {
	queue  *RetryQueue
	runner Runner
	logger *zap.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRetryProcessor creates a new background retry processor.
func NewRetryProcessor(queue *RetryQueue, runner Runner, logger *zap.Logger) *RetryProcessor {
	return &RetryProcessor{
		queue:  queue,
		runner: runner,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the processing loop. An immediate batch runs on startup;
// further batches run on the configured interval.
func (p *RetryProcessor) Start() error {
	p.logger.Info("Retry processor starting",
		zap.Duration("interval", p.queue.cfg.Interval),
		zap.Int("batch_size", p.queue.cfg.BatchSize))
	go p.run()
	return nil
}

func (p *RetryProcessor) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.queue.cfg.Interval)
	defer ticker.Stop()

	p.processOnce()
	for {
		select {
		case <-ticker.C:
			p.processOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *RetryProcessor) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := p.queue.ProcessBatch(ctx, p.runner); err != nil {
		p.logger.Error("Failed to process retry batch", zap.Error(err))
	}
}

// Stop signals the loop to finish and waits for the in-flight batch.
func (p *RetryProcessor) Stop() error {
	close(p.stopCh)
	<-p.doneCh
	p.logger.Info("Retry processor stopped")
	return nil
}
