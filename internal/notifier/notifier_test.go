package notifier_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/abi50/pida/internal/config"
	"github.com/abi50/pida/internal/model"
	"github.com/abi50/pida/internal/notifier"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogNotifier_SeverityMapsToLevel(t *testing.T) {
	var buf bytes.Buffer
	n := notifier.NewLogNotifier(testLogger(&buf))

	alert := model.NewAlert(model.SeverityCritical, "intrusion detected", "engine", nil)
	if err := n(context.Background(), alert); err != nil {
		t.Fatalf("log notifier: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	// slog.LevelError+4 has no named constant; the handler renders it as
	// "ERROR+4" or similar rather than a bare level name.
	level, _ := entry["level"].(string)
	if !strings.Contains(level, "ERROR") {
		t.Errorf("log level for CRITICAL alert = %q, want it to contain ERROR", level)
	}
}

func TestLogNotifier_InfoSeverity(t *testing.T) {
	var buf bytes.Buffer
	n := notifier.NewLogNotifier(testLogger(&buf))

	if err := n(context.Background(), model.NewAlert(model.SeverityInfo, "fyi", "engine", nil)); err != nil {
		t.Fatalf("log notifier: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "INFO" {
		t.Errorf("log level for INFO alert = %v, want INFO", entry["level"])
	}
}

func TestToastNotifier_DegradesToLogWhenNoBackend(t *testing.T) {
	var buf bytes.Buffer
	n := notifier.NewToastNotifier(nil, testLogger(&buf))

	if err := n(context.Background(), model.NewAlert(model.SeverityHigh, "break-in", "engine", nil)); err != nil {
		t.Fatalf("toast notifier with nil backend should not error: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("toast notifier should log when no ToastFunc is configured")
	}
}

func TestToastNotifier_CallsBackend(t *testing.T) {
	var gotTitle, gotMessage string
	show := func(title, message string) error {
		gotTitle, gotMessage = title, message
		return nil
	}
	n := notifier.NewToastNotifier(show, nil)

	alert := model.NewAlert(model.SeverityHigh, "break-in", "engine", nil)
	if err := n(context.Background(), alert); err != nil {
		t.Fatalf("toast notifier: %v", err)
	}
	if gotMessage != alert.Message {
		t.Errorf("toast message = %q, want %q", gotMessage, alert.Message)
	}
	if !strings.Contains(gotTitle, string(alert.Severity)) {
		t.Errorf("toast title = %q, should mention severity %s", gotTitle, alert.Severity)
	}
}

// TestEmailNotifier_BatchesWithinWindow verifies that a second alert arriving
// before BatchWindow elapses is queued rather than triggering a second send.
func TestEmailNotifier_BatchesWithinWindow(t *testing.T) {
	cfg := config.EmailConfig{
		Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587,
		From: "pida@example.com", To: []string{"owner@example.com"},
		BatchWindow: time.Hour,
	}
	n := notifier.NewEmailNotifier(cfg, nil)

	sendCount := 0
	var lastMsg []byte
	n.SetSendFnForTest(func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		sendCount++
		lastMsg = msg
		return nil
	})

	first := model.NewAlert(model.SeverityHigh, "first", "engine", nil)
	second := model.NewAlert(model.SeverityCritical, "second", "engine", nil)

	if err := n.Notify(context.Background(), first); err != nil {
		t.Fatalf("Notify(first): %v", err)
	}
	if err := n.Notify(context.Background(), second); err != nil {
		t.Fatalf("Notify(second): %v", err)
	}

	if sendCount != 1 {
		t.Fatalf("sendCount = %d, want 1 (first Notify sends immediately, second is throttled)", sendCount)
	}
	if !strings.Contains(string(lastMsg), "first") {
		t.Errorf("first digest should contain the first alert's message, got %q", lastMsg)
	}
}

// TestEmailNotifier_SubjectUsesFirstAlertSeverity documents and verifies the
// preserved quirk: the digest subject reports the first queued alert's
// severity, not the batch maximum.
func TestEmailNotifier_SubjectUsesFirstAlertSeverity(t *testing.T) {
	cfg := config.EmailConfig{
		Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587,
		From: "pida@example.com", To: []string{"owner@example.com"},
		BatchWindow: time.Hour,
	}
	n := notifier.NewEmailNotifier(cfg, nil)

	var lastMsg []byte
	n.SetSendFnForTest(func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		lastMsg = msg
		return nil
	})

	// The primer is sent at once and opens the batch window; LOW and then
	// CRITICAL are held, so the flushed digest lists LOW first.
	primer := model.NewAlert(model.SeverityHigh, "primer", "engine", nil)
	low := model.NewAlert(model.SeverityLow, "low one", "engine", nil)
	critical := model.NewAlert(model.SeverityCritical, "critical one", "engine", nil)
	for _, a := range []model.Alert{primer, low, critical} {
		if err := n.Notify(context.Background(), a); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if !strings.Contains(string(lastMsg), "2 alert(s) — highest: LOW") {
		t.Errorf("subject should report the first queued alert's severity (LOW), not the batch maximum (CRITICAL), got %q", lastMsg)
	}
}

func TestEmailNotifier_RetriesOnSendFailure(t *testing.T) {
	cfg := config.EmailConfig{
		Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587,
		From: "pida@example.com", To: []string{"owner@example.com"},
		BatchWindow: time.Hour,
	}
	n := notifier.NewEmailNotifier(cfg, nil)

	attempts := 0
	n.SetSendFnForTest(func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		attempts++
		if attempts == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	alert := model.NewAlert(model.SeverityHigh, "flaky send", "engine", nil)
	if err := n.Notify(context.Background(), alert); err == nil {
		t.Fatal("expected the first send to fail")
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("Flush retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (initial failure + successful retry)", attempts)
	}
}
