package factory

import (
	"context"

	"github.com/mikey/exec-email-agent/internal/adapters/gcal"
	"github.com/mikey/exec-email-agent/internal/adapters/gmail"
	"github.com/mikey/exec-email-agent/internal/config"
	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// CollaboratorFactory creates the optional mailbox and calendar writers.
// Both are nil when unconfigured; action execution degrades gracefully.
type CollaboratorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCollaboratorFactory creates a new collaborator factory
func NewCollaboratorFactory(cfg *config.Config, logger *zap.Logger) *CollaboratorFactory {
	return &CollaboratorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDraftWriter creates a Gmail draft writer, or nil when no
// credentials are configured.
func (f *CollaboratorFactory) CreateDraftWriter(ctx context.Context) (core.DraftWriter, error) {
	credentialsFile := f.cfg.GetString("gmail.credentials_file")
	if credentialsFile == "" {
		f.logger.Info("Gmail credentials not configured, drafts stay local")
		return nil, nil
	}
	writer, err := gmail.NewDraftWriter(ctx, credentialsFile, f.logger)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

// CreateCalendarWriter creates a Google Calendar writer, or nil when no
// credentials are configured.
func (f *CollaboratorFactory) CreateCalendarWriter(ctx context.Context) (core.CalendarWriter, error) {
	credentialsFile := f.cfg.GetString("calendar.credentials_file")
	if credentialsFile == "" {
		f.logger.Info("Calendar credentials not configured, events are skipped")
		return nil, nil
	}
	writer, err := gcal.NewCalendarWriter(ctx, credentialsFile, f.cfg.GetString("calendar.id"), f.logger)
	if err != nil {
		return nil, err
	}
	return writer, nil
}
