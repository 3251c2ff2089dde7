package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// DraftWriter stores reply drafts in a Gmail mailbox via the Gmail API.
type DraftWriter struct {
	svc    *gmail.Service
	logger *zap.Logger
}

// NewDraftWriter creates a Gmail draft writer using a service-account or
// OAuth credentials file.
func NewDraftWriter(ctx context.Context, credentialsFile string, logger *zap.Logger) (*DraftWriter, error) {
	svc, err := gmail.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &DraftWriter{
		svc:    svc,
		logger: logger,
	}, nil
}

// NewDraftWriterFromService wraps an existing Gmail service.
func NewDraftWriterFromService(svc *gmail.Service, logger *zap.Logger) *DraftWriter {
	return &DraftWriter{
		svc:    svc,
		logger: logger,
	}
}

// CreateDraft creates a reply draft on the thread of the original email and
// returns the Gmail draft ID.
func (w *DraftWriter) CreateDraft(ctx context.Context, email *core.Email, text string) (string, error) {
	raw := buildReplyMessage(email, text)

	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
			ThreadId: email.ThreadID,
		},
	}

	created, err := w.svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create Gmail draft: %w", err)
	}

	w.logger.Debug("Created Gmail draft",
		zap.String("email_id", email.ID),
		zap.String("draft_id", created.Id))
	return created.Id, nil
}

// buildReplyMessage assembles an RFC 822 reply message addressed to the
// original sender, threaded on the original message ID when known.
func buildReplyMessage(email *core.Email, text string) string {
	subject := email.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", email.From)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if email.MessageID != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", email.MessageID)
		fmt.Fprintf(&b, "References: %s\r\n", email.MessageID)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(text)
	return b.String()
}
