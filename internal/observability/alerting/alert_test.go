package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "Swapper-Chain/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	ok := &recordingNotifier{channel: "a"}
	failing := &recordingNotifier{channel: "b", err: errors.New("boom")}
	dispatcher := NewFanout(ok, failing, nil)

	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeChainFailure, JobID: "job-1"})
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined error from channel b, got %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("every notifier should receive the event")
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op, got %v", err)
	}
}

func TestSlackWebhookNotifier(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received = payload["text"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := &SlackNotifier{Sender: NewWebhookSender(server.URL)}
	err := notifier.Notify(context.Background(), Event{
		Code:       xerrors.CodeTimeout,
		Message:    "等待交易上链失败",
		Severity:   xerrors.SeverityWarning,
		JobID:      "job-7",
		Chain:      "mainnet",
		Attempts:   1,
		MaxRetries: 3,
		Metadata:   map[string]string{"tx_hash": "0xabc", "stage": "terminal"},
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	for _, fragment := range []string{"*[warning]* TIMEOUT", "job-7 @ mainnet", "- stage: terminal\n- tx_hash: 0xabc"} {
		if !strings.Contains(received, fragment) {
			t.Fatalf("payload %q missing %q", received, fragment)
		}
	}
}

func TestWebhookSenderReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewWebhookSender(server.URL).Send(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error for 403 response")
	}
}

func TestUnconfiguredSlackNotifierSkips(t *testing.T) {
	var notifier *SlackNotifier
	if err := notifier.Notify(context.Background(), Event{JobID: "x"}); err != nil {
		t.Fatalf("unconfigured notifier should skip, got %v", err)
	}
	if err := (LogNotifier{}).Notify(context.Background(), Event{Message: "m"}); err != nil {
		t.Fatalf("log notifier returned %v", err)
	}
}
