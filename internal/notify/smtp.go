package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds connection settings for the transactional mailbox.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string // e.g. "Identity <noreply@example.com>"
	TLSMode  string // "starttls" (587) or "tls" (465)
}

// SMTPMailer implements EmailSender over plain SMTP with TLS 1.2+.
// Messages are plain text; addresses are validated to block header
// injection before anything hits the wire.
type SMTPMailer struct {
	Config SMTPConfig
	Logger *slog.Logger
}

func NewSMTPMailer(config SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if _, err := sanitizeAddress(config.From); err != nil {
		return nil, fmt.Errorf("invalid From address: %w", err)
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid SMTP port %d", config.Port)
	}
	return &SMTPMailer{Config: config, Logger: logger}, nil
}

func (m *SMTPMailer) SendInvite(ctx context.Context, to, inviteURL, inviterName, role string) error {
	body := fmt.Sprintf(
		"Hello,\n\n%s invited you to join as %s.\n\nAccept the invitation: %s\n\nThe link expires in 7 days.\n",
		inviterName, role, inviteURL,
	)
	return m.send(ctx, to, "You've been invited", body)
}

func (m *SMTPMailer) SendOTPCode(ctx context.Context, to, code string) error {
	body := fmt.Sprintf(
		"Hello,\n\nYour verification code is: %s\n\nIt expires in 10 minutes. If you did not try to sign in, ignore this email.\n",
		code,
	)
	return m.send(ctx, to, "Your verification code", body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	toAddr, err := sanitizeAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	fromAddr, _ := sanitizeAddress(m.Config.From) // validated at construction

	message := m.buildMessage(fromAddr, toAddr, subject, body)
	serverAddr := fmt.Sprintf("%s:%d", m.Config.Host, m.Config.Port)

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	tlsConfig := &tls.Config{
		ServerName: m.Config.Host,
		MinVersion: tls.VersionTLS12,
	}

	var conn net.Conn
	if m.Config.TLSMode == "tls" {
		conn, err = tls.DialWithDialer(dialer, "tcp", serverAddr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		m.Logger.Error("smtp_connect_failed", "host", m.Config.Host, "error", err)
		return fmt.Errorf("smtp connection failed")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.Config.Host)
	if err != nil {
		return fmt.Errorf("smtp protocol error")
	}
	defer client.Quit()

	if m.Config.TLSMode != "tls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			m.Logger.Error("smtp_starttls_failed", "error", err)
			return fmt.Errorf("smtp tls upgrade failed")
		}
	}

	if m.Config.User != "" {
		auth := smtp.PlainAuth("", m.Config.User, m.Config.Password, m.Config.Host)
		if err := client.Auth(auth); err != nil {
			m.Logger.Error("smtp_auth_failed", "user", m.Config.User, "error", err)
			return fmt.Errorf("smtp authentication failed")
		}
	}

	if err := client.Mail(fromAddr); err != nil {
		return fmt.Errorf("smtp MAIL failed: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return fmt.Errorf("smtp RCPT failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize email: %w", err)
	}

	m.Logger.Info("email_delivered", "subject", subject)
	return nil
}

func (m *SMTPMailer) buildMessage(from, to, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// sanitizeAddress parses the address per RFC 5322 and rejects CRLF so user
// input can never smuggle extra headers into the message.
func sanitizeAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(parsed.Address, "\r\n") || strings.ContainsAny(parsed.Name, "\r\n") {
		return "", fmt.Errorf("control characters in email address")
	}
	return parsed.Address, nil
}
