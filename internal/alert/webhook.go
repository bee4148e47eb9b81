package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one structured alert delivered to the webhook sink.
type Event struct {
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	State    string    `json:"state,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier is the alert sink used by the scheduler and sync engine checks.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Webhook posts events as JSON to a configured URL and keeps a bounded
// in-memory history for the operator dashboard. An empty URL degrades to
// log-only, which keeps dev environments quiet but visible.
type Webhook struct {
	URL         string
	HTTP        *http.Client
	Logger      *zap.Logger
	HistorySize int

	mu      sync.Mutex
	history []Event
}

func (w *Webhook) Notify(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	w.record(event)

	if w.Logger != nil {
		w.Logger.Warn("alert",
			zap.String("title", event.Title),
			zap.String("severity", event.Severity),
			zap.String("state", event.State),
			zap.String("message", event.Message),
		)
	}

	url := strings.TrimSpace(w.URL)
	if url == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook http %d", resp.StatusCode)
	}
	return nil
}

// History returns recent events, newest first.
func (w *Webhook) History() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.history))
	for i, e := range w.history {
		out[len(w.history)-1-i] = e
	}
	return out
}

func (w *Webhook) record(event Event) {
	size := w.HistorySize
	if size <= 0 {
		size = 100
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, event)
	if len(w.history) > size {
		w.history = w.history[len(w.history)-size:]
	}
}

func (w *Webhook) httpClient() *http.Client {
	if w.HTTP != nil {
		return w.HTTP
	}
	return &http.Client{Timeout: 5 * time.Second}
}
