package notify

import (
	"context"
	"log/slog"
)

// EmailSender is the delivery contract the services depend on. OTP delivery
// is on the critical login path; invite delivery is best-effort.
type EmailSender interface {
	SendInvite(ctx context.Context, to string, inviteURL string, inviterName string, role string) error
	SendOTPCode(ctx context.Context, to string, code string) error
}

// DevMailer prints emails to the log (safe for development and tests).
type DevMailer struct {
	Logger *slog.Logger
}

func (m *DevMailer) SendInvite(ctx context.Context, to, inviteURL, inviterName, role string) error {
	m.Logger.Info("email_sent",
		"to", to,
		"type", "invite",
		"inviter", inviterName,
		"role", role,
		"url", inviteURL,
	)
	return nil
}

func (m *DevMailer) SendOTPCode(ctx context.Context, to, code string) error {
	m.Logger.Info("email_sent",
		"to", to,
		"type", "otp_code",
		"code", code,
	)
	return nil
}
