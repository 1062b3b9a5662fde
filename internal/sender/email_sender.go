package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/mail"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"shop-notification-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
	log "github.com/sirupsen/logrus"
)

const maxAttachmentSize = 10 << 20

// Message is a rendered notification ready for the wire.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []domain.Attachment
}

// Timeouts bound each phase of an SMTP session.
type Timeouts struct {
	Connect  time.Duration
	Greeting time.Duration
	Socket   time.Duration
	Send     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:  10 * time.Second,
		Greeting: 5 * time.Second,
		Socket:   10 * time.Second,
		Send:     15 * time.Second,
	}
}

// SMTPEmailSender opens one connection per Send. It holds no connection state.
type SMTPEmailSender struct {
	timeouts   Timeouts
	httpClient *http.Client
}

func NewSMTPEmailSender(timeouts Timeouts) *SMTPEmailSender {
	def := DefaultTimeouts()
	if timeouts.Connect <= 0 {
		timeouts.Connect = def.Connect
	}
	if timeouts.Greeting <= 0 {
		timeouts.Greeting = def.Greeting
	}
	if timeouts.Socket <= 0 {
		timeouts.Socket = def.Socket
	}
	if timeouts.Send <= 0 {
		timeouts.Send = def.Send
	}
	return &SMTPEmailSender{timeouts: timeouts, httpClient: &http.Client{}}
}

// Send delivers msg through the server described by cfg and returns the
// Message-Id it assigned. Overrunning any deadline yields domain.ErrSendTimeout;
// other failures wrap domain.ErrTransport.
func (s *SMTPEmailSender) Send(ctx context.Context, cfg domain.TransportConfig, msg Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Send)
	defer cancel()

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(cfg.FromEmail))

	e := email.NewEmail()
	e.From = (&mail.Address{Name: cfg.FromName, Address: cfg.FromEmail}).String()
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	if msg.Text != "" {
		e.Text = []byte(msg.Text)
	}
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	e.Headers.Set("Message-Id", messageID)
	s.attach(ctx, e, msg.Attachments)

	raw, err := e.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: compose message: %v", domain.ErrTransport, err)
	}

	if err := s.deliver(ctx, cfg, msg.To, raw); err != nil {
		return "", err
	}
	return messageID, nil
}

func (s *SMTPEmailSender) deliver(ctx context.Context, cfg domain.TransportConfig, to string, raw []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := &net.Dialer{Timeout: s.timeouts.Connect}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classify(ctx, "connect", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.deadline(ctx, conn, s.timeouts.Greeting)
	session := conn
	if cfg.Secure {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: cfg.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return classify(ctx, "tls handshake", err)
		}
		session = tlsConn
	}

	c, err := smtp.NewClient(session, cfg.Host)
	if err != nil {
		return classify(ctx, "greeting", err)
	}
	defer c.Close()

	s.deadline(ctx, conn, s.timeouts.Socket)
	if !cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return classify(ctx, "starttls", err)
			}
		}
	}

	s.deadline(ctx, conn, s.timeouts.Socket)
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return classify(ctx, "auth", err)
		}
	}

	s.deadline(ctx, conn, s.timeouts.Socket)
	if err := c.Mail(cfg.FromEmail); err != nil {
		return classify(ctx, "mail from", err)
	}
	s.deadline(ctx, conn, s.timeouts.Socket)
	if err := c.Rcpt(to); err != nil {
		return classify(ctx, "rcpt to", err)
	}

	s.deadline(ctx, conn, s.timeouts.Socket)
	w, err := c.Data()
	if err != nil {
		return classify(ctx, "data", err)
	}
	if _, err := w.Write(raw); err != nil {
		return classify(ctx, "data", err)
	}
	if err := w.Close(); err != nil {
		return classify(ctx, "data", err)
	}

	s.deadline(ctx, conn, s.timeouts.Socket)
	if err := c.Quit(); err != nil {
		log.WithError(err).Debug("SMTP QUIT failed after accepted message")
	}
	return nil
}

// deadline limits the next phase to d without exceeding the overall send deadline.
func (s *SMTPEmailSender) deadline(ctx context.Context, conn net.Conn, d time.Duration) {
	at := time.Now().Add(d)
	if overall, ok := ctx.Deadline(); ok && overall.Before(at) {
		at = overall
	}
	_ = conn.SetDeadline(at)
}

func (s *SMTPEmailSender) attach(ctx context.Context, e *email.Email, attachments []domain.Attachment) {
	for _, att := range attachments {
		data, contentType, err := s.fetch(ctx, att)
		if err != nil {
			log.WithFields(log.Fields{
				"attachment": att.Name,
				"url":        att.URL,
				"error":      err,
			}).Warn("Skipping attachment")
			continue
		}
		if _, err := e.Attach(bytes.NewReader(data), att.Name, contentType); err != nil {
			log.WithFields(log.Fields{
				"attachment": att.Name,
				"error":      err,
			}).Warn("Skipping attachment")
		}
	}
}

func (s *SMTPEmailSender) fetch(ctx context.Context, att domain.Attachment) ([]byte, string, error) {
	if att.URL == "" {
		return nil, "", errors.New("attachment has no url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxAttachmentSize {
		return nil, "", fmt.Errorf("attachment exceeds %d bytes", maxAttachmentSize)
	}

	contentType := att.Type
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func classify(ctx context.Context, phase string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		log.WithFields(log.Fields{
			"phase": phase,
			"error": err,
		}).Warn("SMTP session timed out")
		return domain.ErrSendTimeout
	}
	return fmt.Errorf("%w: smtp %s: %v", domain.ErrTransport, phase, err)
}

func senderDomain(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "localhost"
}
