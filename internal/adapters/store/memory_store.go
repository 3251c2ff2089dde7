package store

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the persistence contracts,
// used for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string]*core.EmailState
	behavior map[string]*core.BehaviorLogEntry
	tasks    map[string]*core.Task
	retries  []*core.RetryItem
	nextID   int64
	logger   *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		states:   make(map[string]*core.EmailState),
		behavior: make(map[string]*core.BehaviorLogEntry),
		tasks:    make(map[string]*core.Task),
		nextID:   1,
		logger:   logger,
	}
}

// SaveObservation upserts the observed email into durable state
func (s *MemoryStore) SaveObservation(_ context.Context, email *core.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[email.ID]
	if !ok {
		state = &core.EmailState{EmailID: email.ID}
		s.states[email.ID] = state
	}
	state.Sender = email.From
	state.Subject = email.Subject
	state.Body = email.Body
	state.Timestamp = email.Timestamp
	return nil
}

// GetState fetches the state row for an email, or nil when absent
func (s *MemoryStore) GetState(_ context.Context, emailID string) (*core.EmailState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[emailID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// UpdateActionState records the decided action on an existing state row.
// A missing row is a silent no-op.
func (s *MemoryStore) UpdateActionState(_ context.Context, emailID string, update core.ActionStateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[emailID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	state.NextAction = update.NextAction
	state.ActionReason = update.ActionReason
	state.ActionTimestamp = now
	if update.TaskStatus != nil {
		state.TaskStatus = *update.TaskStatus
	}
	if update.UrgentFlag != nil {
		state.UrgentFlag = *update.UrgentFlag
	}
	if update.NeedsHumanReview != nil {
		state.NeedsHumanReview = *update.NeedsHumanReview
	}
	if update.ReplyDraft != nil {
		state.ReplyDraft = *update.ReplyDraft
		state.ReplyTimestamp = now
	}
	return nil
}

// UpsertEntry creates or updates the behavior log entry keyed by email ID
func (s *MemoryStore) UpsertEntry(_ context.Context, entry *core.BehaviorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.behavior[entry.EmailID]
	if ok {
		// Post-hoc updates never blank out an already-known final action.
		if entry.UserFinalAction == "" {
			entry.UserFinalAction = existing.UserFinalAction
		}
		if !entry.UserOpened {
			entry.UserOpened = existing.UserOpened
		}
		entry.CreatedAt = existing.CreatedAt
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	copied := *entry
	s.behavior[entry.EmailID] = &copied
	return nil
}

// GetEntry fetches the behavior log entry for an email, or nil when absent
func (s *MemoryStore) GetEntry(_ context.Context, emailID string) (*core.BehaviorLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.behavior[emailID]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

// AllEntries returns the full behavior log
func (s *MemoryStore) AllEntries(_ context.Context) ([]*core.BehaviorLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*core.BehaviorLogEntry, 0, len(s.behavior))
	for _, entry := range s.behavior {
		copied := *entry
		entries = append(entries, &copied)
	}
	return entries, nil
}

// UpsertTask creates the task or updates title/description in place
func (s *MemoryStore) UpsertTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.tasks[task.EmailID]
	if ok {
		existing.Title = task.Title
		existing.Description = task.Description
		if existing.Status == "" {
			existing.Status = "open"
		}
		existing.UpdatedAt = now
		return nil
	}
	copied := *task
	if copied.Status == "" {
		copied.Status = "open"
	}
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.tasks[task.EmailID] = &copied
	return nil
}

// GetTask fetches the task for an email, or nil when absent
func (s *MemoryStore) GetTask(_ context.Context, emailID string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[emailID]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

// FindPending returns the pending retry row for (emailID, operation), or nil
func (s *MemoryStore) FindPending(_ context.Context, emailID, operation string) (*core.RetryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.retries) - 1; i >= 0; i-- {
		item := s.retries[i]
		if item.EmailID == emailID && item.Operation == operation && item.Status == core.RetryStatusPending {
			copied := *item
			return &copied, nil
		}
	}
	return nil, nil
}

// Insert creates a new retry row
func (s *MemoryStore) Insert(_ context.Context, item *core.RetryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *item
	copied.ID = s.nextID
	s.nextID++
	s.retries = append(s.retries, &copied)
	item.ID = copied.ID
	return nil
}

// Update overwrites a retry row by ID
func (s *MemoryStore) Update(_ context.Context, item *core.RetryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.retries {
		if existing.ID == item.ID {
			copied := *item
			s.retries[i] = &copied
			return nil
		}
	}
	return nil
}

// Pending returns pending retry rows in creation order, up to limit.
// A limit of 0 means no limit.
func (s *MemoryStore) Pending(_ context.Context, limit int) ([]*core.RetryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*core.RetryItem, 0)
	for _, item := range s.retries {
		if item.Status != core.RetryStatusPending {
			continue
		}
		copied := *item
		items = append(items, &copied)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

// Stop releases resources; a no-op for the in-memory store
func (s *MemoryStore) Stop() {}
