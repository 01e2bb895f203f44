package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"bookstore/internal/config"
	"bookstore/internal/pkg/queue"

	"gopkg.in/gomail.v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	mu   sync.Mutex
	sent []*gomail.Message
	err  error
}

func (s *captureSender) DialAndSend(m ...*gomail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m...)
	return nil
}

func configuredNotifier(sender mailSender) *EmailNotifier {
	cfg := &config.EmailConfig{SMTPHost: "smtp.test", SMTPPort: 587, SMTPUser: "bot", FromEmail: "bot@test"}
	n := NewEmailNotifier(cfg, testLogger())
	n.sender = sender
	return n
}

func TestSendWelcome(t *testing.T) {
	sender := &captureSender{}
	n := configuredNotifier(sender)

	if err := n.SendWelcome(context.Background(), "<Jo>", "jo@x.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if got := msg.GetHeader("To"); len(got) != 1 || got[0] != "jo@x.com" {
		t.Fatalf("unexpected To header %v", got)
	}

	var body strings.Builder
	if _, err := msg.WriteTo(&body); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body.String(), "<Jo>") {
		t.Fatalf("name must be html-escaped")
	}
}

func TestSendWelcome_SkipsWhenUnconfigured(t *testing.T) {
	sender := &captureSender{}
	n := NewEmailNotifier(&config.EmailConfig{}, testLogger())
	n.sender = sender

	if err := n.SendWelcome(context.Background(), "Jo", "jo@x.com"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestSendWelcome_Errors(t *testing.T) {
	n := configuredNotifier(&captureSender{err: errors.New("dial tcp: refused")})
	if err := n.SendWelcome(context.Background(), "Jo", "jo@x.com"); err == nil {
		t.Fatalf("expected smtp error")
	}
	if err := n.SendWelcome(context.Background(), "Jo", "  "); err == nil {
		t.Fatalf("expected empty recipient error")
	}
}

type recordingWelcome struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (r *recordingWelcome) SendWelcome(_ context.Context, name, email string) error {
	r.mu.Lock()
	r.calls = append(r.calls, name+"|"+email)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestDispatcher_WelcomeRunsInBackground(t *testing.T) {
	q := queue.New(testLogger(), 1, 4, time.Second)
	rec := &recordingWelcome{done: make(chan struct{}, 1)}
	d := NewDispatcher(q, rec, testLogger())
	q.Start(context.Background())

	d.Welcome("Jo", "jo@x.com")

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("welcome mail was not sent")
	}
	if err := q.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "Jo|jo@x.com" {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
}

func TestDispatcher_ClosedQueueDoesNotBlock(t *testing.T) {
	q := queue.New(testLogger(), 1, 1, 0)
	d := NewDispatcher(q, &recordingWelcome{done: make(chan struct{}, 1)}, testLogger())
	q.Start(context.Background())
	if err := q.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	d.Welcome("Jo", "jo@x.com")
	if q.Stats().Submitted != 0 {
		t.Fatalf("closed queue accepted a task")
	}
}
