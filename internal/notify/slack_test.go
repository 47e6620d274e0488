package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestSlack_OK(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	if s == nil {
		t.Fatal("expected slack client")
	}
	if err := s.Send(context.Background(), "🔴 Target DOWN", "ALERT: Website https://a.example/ is down."); err != nil {
		t.Fatalf("send err: %v", err)
	}
	if !strings.HasPrefix(got, "*🔴 Target DOWN*\n") {
		t.Fatalf("payload not as expected: %q", got)
	}
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	if err := NewSlack(ts.URL).Send(context.Background(), "X", "Y"); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestSlack_Disabled(t *testing.T) {
	s := NewSlack("")
	if err := s.Send(context.Background(), "X", "Y"); !errors.Is(err, ErrSlackDisabled) {
		t.Fatalf("want ErrSlackDisabled, got %v", err)
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, string, string) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	a, b := errors.New("a down"), errors.New("b down")
	err := Multi{failing{a}, nil, Log{Logger: zap.NewNop()}, failing{b}}.Send(context.Background(), "t", "x")
	if !errors.Is(err, a) || !errors.Is(err, b) {
		t.Fatalf("want both errors, got %v", err)
	}
	if err := (Multi{Log{Logger: zap.NewNop()}}).Send(context.Background(), "t", "x"); err != nil {
		t.Fatalf("unexpected %v", err)
	}
}

func TestBuild(t *testing.T) {
	if n := Build(zap.NewNop(), "", SMTP{}).(Multi); len(n) != 1 {
		t.Fatalf("want log only, got %d", len(n))
	}
	if n := Build(zap.NewNop(), "https://hooks.example/x", SMTP{}).(Multi); len(n) != 2 {
		t.Fatalf("want log and slack, got %d", len(n))
	}
	smtp := SMTP{Host: "smtp.example", Port: 587, From: "uc@example", To: []string{"ops@example"}}
	if n := Build(zap.NewNop(), "https://hooks.example/x", smtp).(Multi); len(n) != 3 {
		t.Fatalf("want log, slack and email, got %d", len(n))
	}
}
