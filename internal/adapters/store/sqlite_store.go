package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the persistence contracts
// (email state, behavior log, tasks and the retry queue).
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens a SQLite database and prepares the schema
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS email_state (
			email_id TEXT PRIMARY KEY,
			sender TEXT,
			subject TEXT,
			body TEXT,
			timestamp TEXT,
			next_action TEXT,
			action_reason TEXT,
			task_status TEXT,
			urgent_flag BOOLEAN DEFAULT 0,
			needs_human_review BOOLEAN DEFAULT 0,
			reply_draft TEXT,
			reply_timestamp TEXT,
			action_timestamp TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS behavior_log (
			email_id TEXT PRIMARY KEY,
			intent TEXT,
			sender_domain TEXT,
			requires_reply BOOLEAN DEFAULT 0,
			user_final_action TEXT,
			user_opened BOOLEAN DEFAULT 0,
			proposed_action TEXT,
			agent_action TEXT,
			llm_confidence REAL,
			behavior_score REAL,
			final_score REAL,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_behavior_domain ON behavior_log(sender_domain)`,
		`CREATE INDEX IF NOT EXISTS idx_behavior_intent ON behavior_log(intent)`,
		`CREATE TABLE IF NOT EXISTS task_queue (
			email_id TEXT PRIMARY KEY,
			title TEXT,
			description TEXT,
			status TEXT,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS retry_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email_id TEXT,
			operation TEXT,
			payload TEXT,
			status TEXT,
			attempts INTEGER DEFAULT 0,
			next_retry_at TEXT,
			last_error TEXT,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retry_status ON retry_queue(status, next_retry_at)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveObservation upserts the observed email into durable state
func (s *SQLiteStore) SaveObservation(ctx context.Context, email *core.Email) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_state (email_id, sender, subject, body, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email_id) DO UPDATE SET
			sender = excluded.sender,
			subject = excluded.subject,
			body = excluded.body,
			timestamp = excluded.timestamp
	`, email.ID, email.From, email.Subject, email.Body, email.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}
	return nil
}

// GetState fetches the state row for an email, or nil when absent
func (s *SQLiteStore) GetState(ctx context.Context, emailID string) (*core.EmailState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email_id, sender, subject, body, timestamp, next_action, action_reason,
			task_status, urgent_flag, needs_human_review, reply_draft, reply_timestamp, action_timestamp
		FROM email_state
		WHERE email_id = ?
	`, emailID)

	var state core.EmailState
	var timestamp, nextAction, actionReason, taskStatus, replyDraft, replyTS, actionTS sql.NullString
	err := row.Scan(&state.EmailID, &state.Sender, &state.Subject, &state.Body, &timestamp,
		&nextAction, &actionReason, &taskStatus, &state.UrgentFlag, &state.NeedsHumanReview,
		&replyDraft, &replyTS, &actionTS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query email state: %w", err)
	}

	state.Timestamp = parseStoredTime(timestamp, s.logger)
	state.NextAction = nextAction.String
	state.ActionReason = actionReason.String
	state.TaskStatus = taskStatus.String
	state.ReplyDraft = replyDraft.String
	state.ReplyTimestamp = parseStoredTime(replyTS, s.logger)
	state.ActionTimestamp = parseStoredTime(actionTS, s.logger)
	return &state, nil
}

// UpdateActionState records the decided action on an existing state row.
// A missing row is a silent no-op.
func (s *SQLiteStore) UpdateActionState(ctx context.Context, emailID string, update core.ActionStateUpdate) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `UPDATE email_state SET next_action = ?, action_reason = ?, action_timestamp = ?`
	args := []interface{}{update.NextAction, update.ActionReason, now}
	if update.TaskStatus != nil {
		query += `, task_status = ?`
		args = append(args, *update.TaskStatus)
	}
	if update.UrgentFlag != nil {
		query += `, urgent_flag = ?`
		args = append(args, *update.UrgentFlag)
	}
	if update.NeedsHumanReview != nil {
		query += `, needs_human_review = ?`
		args = append(args, *update.NeedsHumanReview)
	}
	if update.ReplyDraft != nil {
		query += `, reply_draft = ?, reply_timestamp = ?`
		args = append(args, *update.ReplyDraft, now)
	}
	query += ` WHERE email_id = ?`
	args = append(args, emailID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update action state: %w", err)
	}
	return nil
}

// UpsertEntry creates or updates the behavior log entry keyed by email ID
func (s *SQLiteStore) UpsertEntry(ctx context.Context, entry *core.BehaviorLogEntry) error {
	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	// A post-hoc update never blanks out an already-known final action or
	// a recorded open, so merge with the stored row first.
	existing, err := s.GetEntry(ctx, entry.EmailID)
	if err != nil {
		return err
	}
	if existing != nil {
		if entry.UserFinalAction == "" {
			entry.UserFinalAction = existing.UserFinalAction
		}
		if !entry.UserOpened {
			entry.UserOpened = existing.UserOpened
		}
		createdAt = existing.CreatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO behavior_log (
			email_id, intent, sender_domain, requires_reply, user_final_action,
			user_opened, proposed_action, agent_action, llm_confidence,
			behavior_score, final_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.EmailID, entry.Intent, entry.SenderDomain, entry.RequiresReply,
		entry.UserFinalAction, entry.UserOpened, entry.ProposedAction, entry.AgentAction,
		entry.LLMConfidence, entry.BehaviorScore, entry.FinalScore,
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert behavior entry: %w", err)
	}
	return nil
}

// GetEntry fetches the behavior log entry for an email, or nil when absent
func (s *SQLiteStore) GetEntry(ctx context.Context, emailID string) (*core.BehaviorLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email_id, intent, sender_domain, requires_reply, user_final_action,
			user_opened, proposed_action, agent_action, llm_confidence,
			behavior_score, final_score, created_at, updated_at
		FROM behavior_log
		WHERE email_id = ?
	`, emailID)

	entry, err := scanBehaviorEntry(row, s.logger)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query behavior entry: %w", err)
	}
	return entry, nil
}

// AllEntries returns the full behavior log
func (s *SQLiteStore) AllEntries(ctx context.Context) ([]*core.BehaviorLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email_id, intent, sender_domain, requires_reply, user_final_action,
			user_opened, proposed_action, agent_action, llm_confidence,
			behavior_score, final_score, created_at, updated_at
		FROM behavior_log
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query behavior log: %w", err)
	}
	defer rows.Close()

	var entries []*core.BehaviorLogEntry
	for rows.Next() {
		entry, err := scanBehaviorEntry(rows, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to scan behavior entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpsertTask creates the task or updates title/description in place.
// An existing status is kept unless it is empty, which is repaired to open.
func (s *SQLiteStore) UpsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := task.Status
	if status == "" {
		status = "open"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_queue (email_id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = CASE WHEN status = '' OR status IS NULL THEN excluded.status ELSE status END,
			updated_at = excluded.updated_at
	`, task.EmailID, task.Title, task.Description, status, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// GetTask fetches the task for an email, or nil when absent
func (s *SQLiteStore) GetTask(ctx context.Context, emailID string) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email_id, title, description, status, created_at, updated_at
		FROM task_queue
		WHERE email_id = ?
	`, emailID)

	var task core.Task
	var createdAt, updatedAt sql.NullString
	err := row.Scan(&task.EmailID, &task.Title, &task.Description, &task.Status, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	task.CreatedAt = parseStoredTime(createdAt, s.logger)
	task.UpdatedAt = parseStoredTime(updatedAt, s.logger)
	return &task, nil
}

// FindPending returns the pending retry row for (emailID, operation), or nil
func (s *SQLiteStore) FindPending(ctx context.Context, emailID, operation string) (*core.RetryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email_id, operation, payload, status, attempts, next_retry_at,
			last_error, created_at, updated_at
		FROM retry_queue
		WHERE email_id = ? AND operation = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`, emailID, operation, core.RetryStatusPending)

	item, err := scanRetryItem(row, s.logger)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query retry row: %w", err)
	}
	return item, nil
}

// Insert creates a new retry row
func (s *SQLiteStore) Insert(ctx context.Context, item *core.RetryItem) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_queue (email_id, operation, payload, status, attempts,
			next_retry_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.EmailID, item.Operation, item.Payload, item.Status, item.Attempts,
		item.NextRetryAt.UTC().Format(time.RFC3339), item.LastError,
		item.CreatedAt.UTC().Format(time.RFC3339), item.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert retry row: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		item.ID = id
	}
	return nil
}

// Update overwrites a retry row by ID
func (s *SQLiteStore) Update(ctx context.Context, item *core.RetryItem) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE retry_queue
		SET payload = ?, status = ?, attempts = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, item.Payload, item.Status, item.Attempts,
		item.NextRetryAt.UTC().Format(time.RFC3339), item.LastError,
		item.UpdatedAt.UTC().Format(time.RFC3339), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update retry row: %w", err)
	}
	return nil
}

// Pending returns pending retry rows in creation order, up to limit.
// A limit of 0 means no limit.
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]*core.RetryItem, error) {
	query := `
		SELECT id, email_id, operation, payload, status, attempts, next_retry_at,
			last_error, created_at, updated_at
		FROM retry_queue
		WHERE status = ?
		ORDER BY id ASC
	`
	args := []interface{}{core.RetryStatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry queue: %w", err)
	}
	defer rows.Close()

	var items []*core.RetryItem
	for rows.Next() {
		item, err := scanRetryItem(rows, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stop closes the database connection
func (s *SQLiteStore) Stop() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", zap.Error(err))
	}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBehaviorEntry(row rowScanner, logger *zap.Logger) (*core.BehaviorLogEntry, error) {
	var entry core.BehaviorLogEntry
	var finalAction, proposed, agent, createdAt, updatedAt sql.NullString
	err := row.Scan(&entry.EmailID, &entry.Intent, &entry.SenderDomain, &entry.RequiresReply,
		&finalAction, &entry.UserOpened, &proposed, &agent, &entry.LLMConfidence,
		&entry.BehaviorScore, &entry.FinalScore, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	entry.UserFinalAction = finalAction.String
	entry.ProposedAction = proposed.String
	entry.AgentAction = agent.String
	entry.CreatedAt = parseStoredTime(createdAt, logger)
	entry.UpdatedAt = parseStoredTime(updatedAt, logger)
	return &entry, nil
}

func scanRetryItem(row rowScanner, logger *zap.Logger) (*core.RetryItem, error) {
	var item core.RetryItem
	var payload, lastError, nextRetry, createdAt, updatedAt sql.NullString
	err := row.Scan(&item.ID, &item.EmailID, &item.Operation, &payload, &item.Status,
		&item.Attempts, &nextRetry, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.Payload = payload.String
	item.LastError = lastError.String
	item.NextRetryAt = parseStoredTime(nextRetry, logger)
	item.CreatedAt = parseStoredTime(createdAt, logger)
	item.UpdatedAt = parseStoredTime(updatedAt, logger)
	return &item, nil
}

func parseStoredTime(value sql.NullString, logger *zap.Logger) time.Time {
	if !value.Valid || value.String == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value.String)
	if err != nil {
		logger.Warn("Failed to parse stored timestamp", zap.String("value", value.String), zap.Error(err))
		return time.Time{}
	}
	return parsed
}
