package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRetryRepo struct {
	items  []*RetryItem
	nextID int64
}

func (r *fakeRetryRepo) FindPending(_ context.Context, emailID, operation string) (*RetryItem, error) {
	for _, item := range r.items {
		if item.EmailID == emailID && item.Operation == operation && item.Status == RetryStatusPending {
			copied := *item
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRetryRepo) Insert(_ context.Context, item *RetryItem) error {
	r.nextID++
	item.ID = r.nextID
	copied := *item
	r.items = append(r.items, &copied)
	return nil
}

func (r *fakeRetryRepo) Update(_ context.Context, item *RetryItem) error {
	for i, existing := range r.items {
		if existing.ID == item.ID {
			copied := *item
			r.items[i] = &copied
			return nil
		}
	}
	return errors.New("retry row not found")
}

func (r *fakeRetryRepo) Pending(_ context.Context, limit int) ([]*RetryItem, error) {
	var out []*RetryItem
	for _, item := range r.items {
		if item.Status != RetryStatusPending {
			continue
		}
		copied := *item
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRetryRepo) byID(id int64) *RetryItem {
	for _, item := range r.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func newTestQueue(repo *fakeRetryRepo, cfg RetryConfig) (*RetryQueue, *time.Time) {
	queue := NewRetryQueue(repo, cfg, zap.NewNop())
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	queue.now = func() time.Time { return current }
	return queue, &current
}

func retryEmail(id string) *Email {
	return &Email{ID: id, From: "sender@acme.com", Subject: "hello", Body: "world"}
}

func TestNextDelay(t *testing.T) {
	queue, _ := newTestQueue(&fakeRetryRepo{}, DefaultRetryConfig())

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 15 * time.Second},
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{5, 240 * time.Second},
		{8, 1920 * time.Second},
		{9, 3600 * time.Second},
		{50, 3600 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, queue.NextDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestEnqueueCoalesces(t *testing.T) {
	repo := &fakeRetryRepo{}
	queue, _ := newTestQueue(repo, DefaultRetryConfig())
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, retryEmail("e1"), OpAnalyzeAndExecute, "first failure"))
	require.NoError(t, queue.Enqueue(ctx, retryEmail("e1"), OpAnalyzeAndExecute, "second failure"))

	require.Len(t, repo.items, 1)
	assert.Equal(t, "second failure", repo.items[0].LastError)
	assert.Equal(t, RetryStatusPending, repo.items[0].Status)
	assert.Equal(t, 0, repo.items[0].Attempts)

	// A different operation gets its own row.
	require.NoError(t, queue.Enqueue(ctx, retryEmail("e1"), "analyze_and_draft", "legacy failure"))
	assert.Len(t, repo.items, 2)
}

func TestEnqueueIgnoresUnidentifiedEmail(t *testing.T) {
	repo := &fakeRetryRepo{}
	queue, _ := newTestQueue(repo, DefaultRetryConfig())

	require.NoError(t, queue.Enqueue(context.Background(), nil, OpAnalyzeAndExecute, "boom"))
	require.NoError(t, queue.Enqueue(context.Background(), &Email{}, OpAnalyzeAndExecute, "boom"))
	assert.Empty(t, repo.items)
}

func TestProcessBatchSuccess(t *testing.T) {
	repo := &fakeRetryRepo{}
	queue, _ := newTestQueue(repo, DefaultRetryConfig())
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, retryEmail("e1"), OpAnalyzeAndExecute, "transient"))

	var replayed []string
	runner := RunnerFunc(func(_ context.Context, email *Email) error {
		replayed = append(replayed, email.ID)
		return nil
	})

	processed, err := queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{"e1"}, replayed)
	assert.Equal(t, RetryStatusDone, repo.items[0].Status)

	// Terminal rows are never replayed.
	processed, err = queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, []string{"e1"}, replayed)
}

func TestProcessBatchBackoffAndExhaustion(t *testing.T) {
	repo := &fakeRetryRepo{}
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 3
	queue, current := newTestQueue(repo, cfg)
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, retryEmail("e1"), OpAnalyzeAndExecute, "transient"))

	runner := RunnerFunc(func(_ context.Context, _ *Email) error {
		return errors.New("still broken")
	})

	// First replay fails and backs off.
	processed, err := queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	row := repo.byID(1)
	assert.Equal(t, RetryStatusPending, row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, "still broken", row.LastError)
	assert.Equal(t, current.Add(15*time.Second), row.NextRetryAt)

	// Not due yet: nothing is touched.
	processed, err = queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	// Advance past the backoff window and fail again.
	*current = current.Add(time.Minute)
	processed, err = queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, repo.byID(1).Attempts)

	// Third failure exhausts the row.
	*current = current.Add(time.Hour)
	processed, err = queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, RetryStatusFailed, repo.byID(1).Status)

	// Failed rows are never replayed again.
	processed, err = queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestProcessBatchMalformedPayload(t *testing.T) {
	repo := &fakeRetryRepo{}
	queue, current := newTestQueue(repo, DefaultRetryConfig())
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &RetryItem{
		EmailID:     "broken",
		Operation:   OpAnalyzeAndExecute,
		Payload:     "{not json",
		Status:      RetryStatusPending,
		NextRetryAt: *current,
	}))
	require.NoError(t, queue.Enqueue(ctx, retryEmail("good"), OpAnalyzeAndExecute, "transient"))

	var replayed []string
	runner := RunnerFunc(func(_ context.Context, email *Email) error {
		replayed = append(replayed, email.ID)
		return nil
	})

	processed, err := queue.ProcessBatch(ctx, runner)
	require.NoError(t, err)
	// The malformed row is rescheduled, not fatal, and the good row still runs.
	assert.Equal(t, 2, processed)
	assert.Equal(t, []string{"good"}, replayed)
	assert.Equal(t, "retry payload invalid", repo.byID(1).LastError)
	assert.Equal(t, RetryStatusPending, repo.byID(1).Status)
	assert.Equal(t, RetryStatusDone, repo.byID(2).Status)
}

func TestProcessBatchUnsupportedOperation(t *testing.T) {
	repo := &fakeRetryRepo{}
	queue, current := newTestQueue(repo, DefaultRetryConfig())
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, retryEmail("e1"), OpAnalyzeAndExecute, ""))
	repo.items[0].Operation = "mystery_op"
	repo.items[0].NextRetryAt = *current

	processed, err := queue.ProcessBatch(ctx, RunnerFunc(func(_ context.Context, _ *Email) error {
		t.Fatal("runner should not be invoked for unsupported operations")
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Contains(t, repo.byID(1).LastError, "unsupported retry operation")
}

func TestProcessBatchRespectsBatchSize(t *testing.T) {
	repo := &fakeRetryRepo{}
	cfg := DefaultRetryConfig()
	cfg.BatchSize = 2
	queue, _ := newTestQueue(repo, cfg)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, queue.Enqueue(ctx, retryEmail(id), OpAnalyzeAndExecute, "transient"))
	}

	processed, err := queue.ProcessBatch(ctx, RunnerFunc(func(_ context.Context, _ *Email) error {
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	remaining, err := repo.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestProcessBatchLegacyOperation(t *testing.T) {
	repo := &fakeRetryRepo{}
	queue, _ := newTestQueue(repo, DefaultRetryConfig())
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, retryEmail("legacy"), "analyze_and_draft", "transient"))

	var replayed bool
	processed, err := queue.ProcessBatch(ctx, RunnerFunc(func(_ context.Context, _ *Email) error {
		replayed = true
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.True(t, replayed)
}

func TestRetryProcessorStartStop(t *testing.T) {
	repo := &fakeRetryRepo{}
	cfg := DefaultRetryConfig()
	cfg.Interval = time.Hour
	queue := NewRetryQueue(repo, cfg, zap.NewNop())
	require.NoError(t, queue.Enqueue(context.Background(), retryEmail("e1"), OpAnalyzeAndExecute, "transient"))

	done := make(chan struct{})
	processor := NewRetryProcessor(queue, RunnerFunc(func(_ context.Context, _ *Email) error {
		close(done)
		return nil
	}), zap.NewNop())

	require.NoError(t, processor.Start())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("startup batch never ran")
	}
	require.NoError(t, processor.Stop())
	assert.Equal(t, RetryStatusDone, repo.items[0].Status)
}
