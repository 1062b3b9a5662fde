package sender

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"shop-notification-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP is a minimal in-process SMTP server.
type fakeSMTP struct {
	ln         net.Listener
	hold       chan struct{}
	stallOn    string
	rejectRcpt bool

	mu       sync.Mutex
	messages []string
	rcpts    []string
	authed   bool
}

func startFakeSMTP(t *testing.T, configure func(*fakeSMTP)) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeSMTP{ln: ln, hold: make(chan struct{})}
	if configure != nil {
		configure(f)
	}
	t.Cleanup(func() {
		close(f.hold)
		ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.handle(conn)
		}
	}()
	return f
}

func (f *fakeSMTP) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)

	if f.stallOn == "GREETING" {
		<-f.hold
		return
	}
	tp.PrintfLine("220 fake ESMTP ready")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		if verb == f.stallOn {
			<-f.hold
			return
		}

		switch verb {
		case "EHLO":
			tp.PrintfLine("250-fake")
			tp.PrintfLine("250 AUTH PLAIN")
		case "HELO", "NOOP", "RSET":
			tp.PrintfLine("250 ok")
		case "AUTH":
			f.mu.Lock()
			f.authed = true
			f.mu.Unlock()
			tp.PrintfLine("235 2.7.0 authenticated")
		case "MAIL":
			tp.PrintfLine("250 2.1.0 ok")
		case "RCPT":
			if f.rejectRcpt {
				tp.PrintfLine("550 5.1.1 no such user")
				continue
			}
			f.mu.Lock()
			f.rcpts = append(f.rcpts, line)
			f.mu.Unlock()
			tp.PrintfLine("250 2.1.5 ok")
		case "DATA":
			tp.PrintfLine("354 go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.messages = append(f.messages, strings.Join(lines, "\n"))
			f.mu.Unlock()
			tp.PrintfLine("250 2.0.0 queued")
		case "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 unknown command")
		}
	}
}

func (f *fakeSMTP) config() domain.TransportConfig {
	return domain.TransportConfig{
		Host:      "127.0.0.1",
		Port:      f.port(),
		Username:  "shop",
		Password:  "secret",
		FromEmail: "shop@example.com",
		FromName:  "Buchladen",
	}
}

func TestSendDeliversMessage(t *testing.T) {
	srv := startFakeSMTP(t, nil)
	s := NewSMTPEmailSender(DefaultTimeouts())

	id, err := s.Send(context.Background(), srv.config(), Message{
		To:      "max@example.com",
		Subject: "Order BK-2024-001",
		HTML:    "<p>Hallo Max</p>",
		Text:    "Hallo Max",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.messages, 1)
	assert.True(t, srv.authed)
	assert.Contains(t, srv.rcpts[0], "max@example.com")
	assert.Contains(t, srv.messages[0], "Subject: Order BK-2024-001")
	assert.Contains(t, srv.messages[0], id)
	assert.Contains(t, srv.messages[0], "Buchladen")
}

func TestSendGreetingTimeout(t *testing.T) {
	srv := startFakeSMTP(t, func(f *fakeSMTP) { f.stallOn = "GREETING" })
	s := NewSMTPEmailSender(Timeouts{Greeting: 100 * time.Millisecond})

	start := time.Now()
	_, err := s.Send(context.Background(), srv.config(), Message{To: "max@example.com", Subject: "x", Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSendTimeout)
	assert.Equal(t, "timeout", err.Error())
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSendOverallDeadline(t *testing.T) {
	srv := startFakeSMTP(t, func(f *fakeSMTP) { f.stallOn = "MAIL" })
	s := NewSMTPEmailSender(Timeouts{Send: 200 * time.Millisecond})

	_, err := s.Send(context.Background(), srv.config(), Message{To: "max@example.com", Subject: "x", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrSendTimeout)
}

func TestSendRejectionIsTransportError(t *testing.T) {
	srv := startFakeSMTP(t, func(f *fakeSMTP) { f.rejectRcpt = true })
	s := NewSMTPEmailSender(DefaultTimeouts())

	_, err := s.Send(context.Background(), srv.config(), Message{To: "ghost@example.com", Subject: "x", Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.NotErrorIs(t, err, domain.ErrSendTimeout)
	assert.Contains(t, err.Error(), "550")
}

func TestSendConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSMTPEmailSender(DefaultTimeouts())
	_, err = s.Send(context.Background(), domain.TransportConfig{Host: "127.0.0.1", Port: port, FromEmail: "a@b.de"}, Message{To: "x@y.de"})
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestSendAttachesFetchedFilesAndSkipsBrokenOnes(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agb.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer files.Close()

	srv := startFakeSMTP(t, nil)
	s := NewSMTPEmailSender(DefaultTimeouts())

	_, err := s.Send(context.Background(), srv.config(), Message{
		To:      "max@example.com",
		Subject: "Docs",
		Text:    "see attachments",
		Attachments: []domain.Attachment{
			{Name: "agb.pdf", URL: files.URL + "/agb.pdf"},
			{Name: "missing.pdf", URL: files.URL + "/missing.pdf"},
		},
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.messages, 1)
	assert.Contains(t, srv.messages[0], "agb.pdf")
	assert.NotContains(t, srv.messages[0], "missing.pdf")
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "example.com", senderDomain("shop@example.com"))
	assert.Equal(t, "localhost", senderDomain("broken@"))
	assert.Equal(t, "localhost", senderDomain(""))
}
