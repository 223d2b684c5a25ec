package feedback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/memohai/negosync/internal/identity"
	"github.com/memohai/negosync/internal/negotiation"
	"github.com/memohai/negosync/internal/notification"
)

func sample() notification.Notification {
	rate := 2800.0
	return notification.Notification{
		ID: "n1",
		Event: negotiation.Event{
			EventID:    "e1",
			BidID:      "b1",
			LoadID:     "l1",
			SenderID:   "shipperX",
			SenderName: "Shipper",
			SenderRole: identity.RoleShipper,
			Message:    "new rate",
			Rate:       &rate,
			Origin:     negotiation.OriginChannel,
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNoticeFor(t *testing.T) {
	n := sample()
	got := NoticeFor(n)
	want := PlatformNotice{Title: "Shipper · load l1", Body: "new rate · $2,800", Tag: "negotiation:|b1"}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	n.SenderName = "Acme Foods"
	n.LoadID = ""
	n.Message = "Shipper countered at $2,800"
	got = NoticeFor(n)
	if got.Title != "Acme Foods (shipper) · bid b1" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if got.Body != "Shipper countered at $2,800" {
		t.Fatalf("rate must not be repeated, got %q", got.Body)
	}

	other := sample()
	other.ID = "n2"
	other.Message = "again"
	if NoticeFor(other).Tag != NoticeFor(sample()).Tag {
		t.Fatal("updates on one thread must share a tag")
	}
}

func TestMultiRunsEveryDispatcher(t *testing.T) {
	var calls int
	ok := DispatcherFunc(func(context.Context, notification.Notification) error { calls++; return nil })
	boom := errors.New("boom")
	failing := DispatcherFunc(func(context.Context, notification.Notification) error { calls++; return boom })

	err := Multi{failing, nil, ok}.Dispatch(context.Background(), sample())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both dispatchers called, got %d", calls)
	}
}

func TestTerminalRendersCardAndThrottlesBell(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, TerminalConfig{Sound: true, SoundInterval: time.Hour, Color: true})
	if err := term.Dispatch(context.Background(), sample()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := term.Dispatch(context.Background(), sample()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Shipper · load l1", "new rate · $2,800", "negotiation:|b1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("card missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("non-terminal output must not carry ANSI codes:\n%q", out)
	}
	if got := strings.Count(out, "\a"); got != 1 {
		t.Fatalf("expected one bell within the interval, got %d", got)
	}
}

func TestTerminalSilent(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, TerminalConfig{})
	if err := term.Dispatch(context.Background(), sample()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if strings.Contains(buf.String(), "\a") {
		t.Fatal("bell rang with sound disabled")
	}
}

func TestLogDispatcher(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	if err := NewLog(log).Dispatch(context.Background(), sample()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"component":"feedback"`, `"tag":"negotiation:|b1"`, `"rate":2800`, `"origin":"channel"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %s: %s", want, out)
		}
	}
}
