package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"aplsync/internal/apl"
)

func TestNotifyPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	w := &Webhook{URL: srv.URL, HTTP: srv.Client(), Logger: zap.NewNop()}
	err := w.Notify(context.Background(), Event{
		Title:    "CA sync failing",
		Message:  "3 consecutive failures",
		Severity: apl.SeverityCritical,
		State:    "CA",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Title != "CA sync failing" || got.State != "CA" || got.Severity != apl.SeverityCritical {
		t.Fatalf("delivered event = %+v", got)
	}
	if got.At.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := &Webhook{URL: srv.URL, HTTP: srv.Client(), Logger: zap.NewNop()}
	if err := w.Notify(context.Background(), Event{Title: "t"}); err == nil {
		t.Fatal("expected error on non-2xx")
	}
	// The event is still recorded for the dashboard.
	if len(w.History()) != 1 {
		t.Fatalf("history = %d, want 1", len(w.History()))
	}
}

func TestNotifyLogOnlyWithoutURL(t *testing.T) {
	w := &Webhook{Logger: zap.NewNop()}
	if err := w.Notify(context.Background(), Event{Title: "t"}); err != nil {
		t.Fatalf("Notify without URL: %v", err)
	}
	if len(w.History()) != 1 {
		t.Fatalf("history = %d, want 1", len(w.History()))
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	w := &Webhook{Logger: zap.NewNop(), HistorySize: 3}
	for i := 0; i < 5; i++ {
		_ = w.Notify(context.Background(), Event{Title: fmt.Sprintf("event %d", i)})
	}
	hist := w.History()
	if len(hist) != 3 {
		t.Fatalf("history = %d, want bound 3", len(hist))
	}
	if hist[0].Title != "event 4" || hist[2].Title != "event 2" {
		t.Fatalf("order = %v", hist)
	}
}
