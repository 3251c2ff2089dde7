package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the persistence contracts
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore opens a MySQL connection and prepares the schema
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if err := createMySQLSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &MySQLStore{
		db:     db,
		logger: logger,
	}, nil
}

func createMySQLSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS email_state (
			email_id VARCHAR(255) PRIMARY KEY,
			sender VARCHAR(512),
			subject TEXT,
			body MEDIUMTEXT,
			timestamp VARCHAR(64),
			next_action VARCHAR(64),
			action_reason TEXT,
			task_status VARCHAR(32),
			urgent_flag BOOLEAN DEFAULT FALSE,
			needs_human_review BOOLEAN DEFAULT FALSE,
			reply_draft MEDIUMTEXT,
			reply_timestamp VARCHAR(64),
			action_timestamp VARCHAR(64)
		)`,
		`CREATE TABLE IF NOT EXISTS behavior_log (
			email_id VARCHAR(255) PRIMARY KEY,
			intent VARCHAR(255),
			sender_domain VARCHAR(255),
			requires_reply BOOLEAN DEFAULT FALSE,
			user_final_action VARCHAR(64),
			user_opened BOOLEAN DEFAULT FALSE,
			proposed_action VARCHAR(64),
			agent_action VARCHAR(64),
			llm_confidence DOUBLE,
			behavior_score DOUBLE,
			final_score DOUBLE,
			created_at VARCHAR(64),
			updated_at VARCHAR(64),
			INDEX idx_behavior_domain (sender_domain),
			INDEX idx_behavior_intent (intent)
		)`,
		`CREATE TABLE IF NOT EXISTS task_queue (
			email_id VARCHAR(255) PRIMARY KEY,
			title TEXT,
			description TEXT,
			status VARCHAR(32),
			created_at VARCHAR(64),
			updated_at VARCHAR(64)
		)`,
		`CREATE TABLE IF NOT EXISTS retry_queue (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			email_id VARCHAR(255),
			operation VARCHAR(64),
			payload MEDIUMTEXT,
			status VARCHAR(32),
			attempts INT DEFAULT 0,
			next_retry_at VARCHAR(64),
			last_error TEXT,
			created_at VARCHAR(64),
			updated_at VARCHAR(64),
			INDEX idx_retry_status (status, next_retry_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveObservation upserts the observed email into durable state
func (s *MySQLStore) SaveObservation(ctx context.Context, email *core.Email) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_state (email_id, sender, subject, body, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			sender = VALUES(sender),
			subject = VALUES(subject),
			body = VALUES(body),
			timestamp = VALUES(timestamp)
	`, email.ID, email.From, email.Subject, email.Body, email.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}
	return nil
}

// GetState fetches the state row for an email, or nil when absent
func (s *MySQLStore) GetState(ctx context.Context, emailID string) (*core.EmailState, error) {
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
func (s *MySQLStore) UpdateActionState(ctx context.Context, emailID string, update core.ActionStateUpdate) error {
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
func (s *MySQLStore) UpsertEntry(ctx context.Context, entry *core.BehaviorLogEntry) error {
	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

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
		INSERT INTO behavior_log (
			email_id, intent, sender_domain, requires_reply, user_final_action,
			user_opened, proposed_action, agent_action, llm_confidence,
			behavior_score, final_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			intent = VALUES(intent),
			sender_domain = VALUES(sender_domain),
			requires_reply = VALUES(requires_reply),
			user_final_action = VALUES(user_final_action),
			user_opened = VALUES(user_opened),
			proposed_action = VALUES(proposed_action),
			agent_action = VALUES(agent_action),
			llm_confidence = VALUES(llm_confidence),
			behavior_score = VALUES(behavior_score),
			final_score = VALUES(final_score),
			updated_at = VALUES(updated_at)
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
func (s *MySQLStore) GetEntry(ctx context.Context, emailID string) (*core.BehaviorLogEntry, error) {
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
func (s *MySQLStore) AllEntries(ctx context.Context) ([]*core.BehaviorLogEntry, error) {
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
func (s *MySQLStore) UpsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := task.Status
	if status == "" {
		status = "open"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_queue (email_id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			description = VALUES(description),
			status = IF(status = '' OR status IS NULL, VALUES(status), status),
			updated_at = VALUES(updated_at)
	`, task.EmailID, task.Title, task.Description, status, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

// GetTask fetches the task for an email, or nil when absent
func (s *MySQLStore) GetTask(ctx context.Context, emailID string) (*core.Task, error) {
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
func (s *MySQLStore) FindPending(ctx context.Context, emailID, operation string) (*core.RetryItem, error) {
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
func (s *MySQLStore) Insert(ctx context.Context, item *core.RetryItem) error {
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
func (s *MySQLStore) Update(ctx context.Context, item *core.RetryItem) error {
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
func (s *MySQLStore) Pending(ctx context.Context, limit int) ([]*core.RetryItem, error) {
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
func (s *MySQLStore) Stop() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close MySQL connection", zap.Error(err))
	}
}
