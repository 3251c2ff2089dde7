package intake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// SMTPIntake accepts email over SMTP and feeds each message into the
// triage pipeline. It always accepts delivery; triage failures land in
// the durable retry queue instead of bouncing the message.
type SMTPIntake struct {
	service    *core.TriageService
	logger     *zap.Logger
	listenAddr string
	server     *smtp.Server
	timeout    time.Duration
}

// NewSMTPIntake creates a new SMTP intake listener
func NewSMTPIntake(
	service *core.TriageService,
	logger *zap.Logger,
	listenAddr string,
	processTimeout time.Duration,
) *SMTPIntake {
	if processTimeout <= 0 {
		processTimeout = 60 * time.Second
	}
	return &SMTPIntake{
		service:    service,
		logger:     logger,
		listenAddr: listenAddr,
		timeout:    processTimeout,
	}
}

// Start starts the SMTP intake server
func (f *SMTPIntake) Start() error {
	f.server = smtp.NewServer(&smtpBackend{intake: f})

	f.server.Addr = f.listenAddr
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = 30 * 1024 * 1024 // 30MB
	f.server.MaxRecipients = 50
	f.server.AllowInsecureAuth = true

	f.logger.Info("SMTP intake starting", zap.String("address", f.listenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil {
			if err != smtp.ErrServerClosed {
				f.logger.Error("SMTP server error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop stops the SMTP intake server
func (f *SMTPIntake) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	intake *SMTPIntake
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{
		intake:     b.intake,
		recipients: make([]string, 0),
	}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	intake     *SMTPIntake
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = make([]string, 0)
}

// AuthPlain handles PLAIN authentication (not needed for intake)
func (s *smtpSession) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data handles the email data
func (s *smtpSession) Data(r io.Reader) error {
	rawData, err := io.ReadAll(r)
	if err != nil {
		s.intake.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	email, err := ParseEmail(rawData, s.sender, s.recipients)
	if err != nil {
		s.intake.logger.Error("Failed to parse email message", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.intake.timeout)
	defer cancel()

	decision, err := s.intake.service.ProcessEmail(ctx, email)
	if err != nil {
		// The observation is already stored and queued for retry, so the
		// message is still accepted.
		s.intake.logger.Warn("Triage deferred to retry queue",
			zap.Error(err),
			zap.String("email_id", email.ID),
			zap.String("sender_domain", email.SenderDomain()))
		return nil
	}

	s.intake.logger.Info("Processed email",
		zap.String("email_id", email.ID),
		zap.String("sender_domain", email.SenderDomain()),
		zap.String("action", string(decision.Action)),
		zap.Float64("final_score", decision.FinalScore))
	return nil
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}

// ParseEmail builds a pipeline email from a raw RFC 822 message. The envelope
// sender and recipients win over headers when present.
func ParseEmail(rawData []byte, envelopeSender string, envelopeRecipients []string) (*core.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(rawData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	textContent, err := extractTextFromMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text content: %w", err)
	}

	from := envelopeSender
	if from == "" {
		from = msg.Header.Get("From")
	}
	to := envelopeRecipients
	if len(to) == 0 {
		if addrs, err := msg.Header.AddressList("To"); err == nil {
			for _, addr := range addrs {
				to = append(to, addr.Address)
			}
		}
	}

	subject := msg.Header.Get("Subject")
	if decoded, err := decodeEncodedHeader(subject); err == nil {
		subject = decoded
	}

	timestamp := time.Now().UTC()
	if date, err := msg.Header.Date(); err == nil {
		timestamp = date.UTC()
	}

	messageID := strings.TrimSpace(msg.Header.Get("Message-Id"))
	id := messageID
	if id == "" {
		sum := sha256.Sum256(rawData)
		id = hex.EncodeToString(sum[:16])
	}

	return &core.Email{
		ID:        id,
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      textContent,
		MessageID: messageID,
		Timestamp: timestamp,
	}, nil
}
