package notify

import (
	"context"
	"errors"
	"mime"
	"testing"
	"time"

	"gopkg.in/mail.v2"
)

func TestEmail_BuildsMessage(t *testing.T) {
	e := NewEmail(SMTP{Host: "smtp.example", Port: 587, From: "uc@example", To: []string{"a@example", "b@example"}})
	if e == nil {
		t.Fatal("expected email notifier")
	}
	var got *mail.Message
	e.send = func(m *mail.Message) error { got = m; return nil }

	if err := e.Send(context.Background(), "🟢 Target RECOVERED", "RECOVERED: Website https://a.example/ is now up."); err != nil {
		t.Fatalf("send: %v", err)
	}
	s := got.GetHeader("Subject")
	if len(s) != 1 {
		t.Fatalf("subject %v", s)
	}
	subject, err := new(mime.WordDecoder).DecodeHeader(s[0])
	if err != nil || subject != "🟢 Target RECOVERED" {
		t.Fatalf("subject %q err=%v", subject, err)
	}
	if to := got.GetHeader("To"); len(to) != 2 {
		t.Fatalf("recipients %v", to)
	}
}

func TestEmail_ErrorsAndTimeout(t *testing.T) {
	if NewEmail(SMTP{Host: "smtp.example"}) != nil {
		t.Fatal("no recipients must disable email")
	}

	e := NewEmail(SMTP{Host: "smtp.example", To: []string{"a@example"}})
	e.send = func(*mail.Message) error { return errors.New("535 auth failed") }
	if err := e.Send(context.Background(), "t", "x"); err == nil {
		t.Fatal("want relay error")
	}

	block := make(chan struct{})
	defer close(block)
	e.send = func(*mail.Message) error { <-block; return nil }
	e.Timeout = 20 * time.Millisecond
	if err := e.Send(context.Background(), "t", "x"); err == nil {
		t.Fatal("want timeout")
	}
}
