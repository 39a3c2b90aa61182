package utils

import (
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/thinknote/thinknote/config"
)

// SMTPMailer sends transactional and notification email over plain SMTP.
// It satisfies the services.Mailer interface.
type SMTPMailer struct{}

// NewSMTPMailer returns a mailer backed by the SMTP settings in config.
func NewSMTPMailer() *SMTPMailer { return &SMTPMailer{} }

// SendVerificationEmail delivers the account verification link.
func (m *SMTPMailer) SendVerificationEmail(email, token string) error {
	cfg := config.Get()
	verifyURL := fmt.Sprintf("%s/auth/verify/%s", cfg.BaseURL, token)
	body := fmt.Sprintf(
		"Welcome to ThinkNote.\n\nPlease verify your email address by visiting:\n\n%s\n\nThe link expires in 24 hours. If you did not create an account, ignore this message.\n",
		verifyURL,
	)
	return SendMail(email, "Verify your ThinkNote account", body)
}

// SendPasswordResetEmail delivers the password reset link.
func (m *SMTPMailer) SendPasswordResetEmail(email, token string) error {
	cfg := config.Get()
	resetURL := fmt.Sprintf("%s/auth/reset-password/%s", cfg.BaseURL, token)
	body := fmt.Sprintf(
		"We received a request to reset your ThinkNote password.\n\nReset it here:\n\n%s\n\nThe link expires in 1 hour. If you did not request this, you can safely ignore this message.\n",
		resetURL,
	)
	return SendMail(email, "Reset your ThinkNote password", body)
}

// SendFollowNotification tells a user someone started following them.
func (m *SMTPMailer) SendFollowNotification(recipientEmail, actorDisplayName, actorUsername string) error {
	cfg := config.Get()
	body := fmt.Sprintf(
		"%s (@%s) is now following you on ThinkNote.\n\nView their profile: %s/u/%s\n\nYou can silence these emails in Settings.\n",
		actorDisplayName, actorUsername, cfg.BaseURL, actorUsername,
	)
	return SendMail(recipientEmail, "You have a new follower", body)
}

// SendLikeNotification tells a post author their post was liked.
func (m *SMTPMailer) SendLikeNotification(recipientEmail, actorDisplayName, postTitle, postSlug string) error {
	cfg := config.Get()
	body := fmt.Sprintf(
		"%s liked your post \"%s\".\n\nRead it again: %s/post/%s\n\nYou can silence these emails in Settings.\n",
		actorDisplayName, postTitle, cfg.BaseURL, postSlug,
	)
	return SendMail(recipientEmail, "Your post was liked", body)
}

// SendCommentNotification tells a post author about a new comment, carrying a snippet of it.
func (m *SMTPMailer) SendCommentNotification(recipientEmail, actorDisplayName, postTitle, postSlug, bodySnippet string) error {
	cfg := config.Get()
	body := fmt.Sprintf(
		"%s commented on your post \"%s\":\n\n  %s\n\nReply here: %s/post/%s\n\nYou can silence these emails in Settings.\n",
		actorDisplayName, postTitle, bodySnippet, cfg.BaseURL, postSlug,
	)
	return SendMail(recipientEmail, "New comment on your post", body)
}

// SendMail sends a plain text email using SMTP settings from config.
func SendMail(to, subject, body string) error {
	cfg := config.Get()
	if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
		return fmt.Errorf("smtp not configured")
	}
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)

	fromName := cfg.SMTPFromName
	if fromName == "" {
		fromName = "ThinkNote"
	}
	fromHeader := fmt.Sprintf("%s <%s>", encodeHeader(fromName), cfg.SMTPFrom)

	headers := map[string]string{
		"From":         fromHeader,
		"To":           to,
		"Subject":      encodeHeader(subject),
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=UTF-8",
	}
	var msg strings.Builder
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if cfg.SMTPTLS {
		// STARTTLS with timeouts
		d := net.Dialer{Timeout: 5 * time.Second}
		conn, err := d.Dial("tcp", addr)
		if err != nil {
			return err
		}
		_ = conn.SetDeadline(time.Now().Add(15 * time.Second))
		host, _, _ := net.SplitHostPort(addr)
		c, err := smtp.NewClient(conn, host)
		if err != nil {
			_ = conn.Close()
			return err
		}
		defer c.Close()
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return err
			}
		}
		if cfg.SMTPUsername != "" {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
		if err := c.Mail(cfg.SMTPFrom); err != nil {
			return err
		}
		if err := c.Rcpt(to); err != nil {
			return err
		}
		wc, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := wc.Write([]byte(msg.String())); err != nil {
			_ = wc.Close()
			return err
		}
		return wc.Close()
	}

	// Plain SMTP without TLS (not recommended)
	return smtp.SendMail(addr, auth, cfg.SMTPFrom, []string{to}, []byte(msg.String()))
}

// encodeHeader encodes a string for non-ASCII mail headers.
func encodeHeader(s string) string {
	return mime.BEncoding.Encode("UTF-8", s)
}
