// Package audit forwards audit records to an external collector. The database
// audit trail is the source of truth; shipping is a best-effort copy for SIEM
// ingestion, so a slow or dead collector must never back-pressure request
// handling. Entries go through a bounded queue and a single background worker;
// when the queue is full the entry is dropped and counted, not blocked on.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/safego"
)

// Entry is one audit record on the wire.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	UserID     string    `json:"user_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
}

// Shipper accepts audit entries for asynchronous delivery.
type Shipper interface {
	// Enqueue hands an entry to the shipper. Never blocks; returns false when
	// the entry was dropped because the queue is full.
	Enqueue(entry *Entry) bool
	// Close flushes pending entries and stops the worker.
	Close() error
}

// WebhookShipper POSTs entries as JSON to a collector endpoint.
type WebhookShipper struct {
	url       string
	authToken string
	client    *http.Client
	queue     chan *Entry
	dropped   int64
	mu        sync.Mutex
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a shipper from config and starts its worker.
// Returns nil when shipping is disabled so callers can pass the result through
// unconditionally.
func NewWebhookShipper(cfg *config.AuditShipperConfig) (*WebhookShipper, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("audit shipper URL is required when shipping is enabled")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		url:       cfg.URL,
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
		queue:     make(chan *Entry, queueSize),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	safego.Go(ws.run)

	return ws, nil
}

// Enqueue implements Shipper.
func (ws *WebhookShipper) Enqueue(entry *Entry) bool {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case ws.queue <- entry:
		return true
	default:
		ws.mu.Lock()
		ws.dropped++
		dropped := ws.dropped
		ws.mu.Unlock()
		if dropped%100 == 1 {
			slog.Warn("audit shipper queue full, dropping entries", "dropped_total", dropped)
		}
		return false
	}
}

// Dropped returns how many entries were discarded due to a full queue.
func (ws *WebhookShipper) Dropped() int64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.dropped
}

func (ws *WebhookShipper) run() {
	for {
		select {
		case entry := <-ws.queue:
			ws.send(entry)
		case <-ws.closeCh:
			// Drain whatever is queued, then stop.
			for {
				select {
				case entry := <-ws.queue:
					ws.send(entry)
				default:
					close(ws.doneCh)
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) send(entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to marshal audit entry", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to build audit webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if ws.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+ws.authToken)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		slog.Warn("audit webhook delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("audit webhook rejected entry", "status", resp.StatusCode)
	}
}

// Close implements Shipper.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
		select {
		case <-ws.doneCh:
		case <-time.After(5 * time.Second):
			slog.Warn("audit shipper close timed out with entries pending")
		}
	})
	return nil
}
