package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/helpdesk-io/helpdesk/internal/config"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultFlushInterval  = 5 * time.Second
	webhookQueueSize      = 1000
)

// WebhookShipper POSTs events as JSON. With batching enabled, events are queued and sent as
// a JSON array when the batch fills, the flush interval elapses, or the shipper closes.
type WebhookShipper struct {
	url     string
	headers map[string]string
	client  *http.Client

	batchSize     int
	flushInterval time.Duration
	queue         chan *Event
	stop          chan struct{}
	stopped       chan struct{}
	closeOnce     sync.Once
}

// NewWebhookShipper validates cfg and, when batching, starts the flush loop.
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	ws := &WebhookShipper{
		url:           cfg.URL,
		headers:       cfg.Headers,
		client:        &http.Client{Timeout: timeout},
		batchSize:     cfg.BatchSize,
		flushInterval: interval,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	if ws.batchSize > 0 {
		ws.queue = make(chan *Event, webhookQueueSize)
		go ws.run()
	} else {
		close(ws.stopped)
	}
	return ws, nil
}

// Ship queues the event when batching, falling back to a direct POST when the queue is full
// or the shipper has closed.
func (ws *WebhookShipper) Ship(ctx context.Context, event *Event) error {
	if ws.queue != nil {
		select {
		case <-ws.stop:
		default:
			select {
			case ws.queue <- event:
				return nil
			default:
			}
		}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return ws.post(ctx, body)
}

// run owns the pending batch; nothing else touches it.
func (ws *WebhookShipper) run() {
	defer close(ws.stopped)

	ticker := time.NewTicker(ws.flushInterval)
	defer ticker.Stop()

	pending := make([]*Event, 0, ws.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ws.sendBatch(pending)
		pending = pending[:0]
	}

	for {
		select {
		case e := <-ws.queue:
			pending = append(pending, e)
			if len(pending) >= ws.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.stop:
			for {
				select {
				case e := <-ws.queue:
					pending = append(pending, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) sendBatch(batch []*Event) {
	body, err := json.Marshal(batch)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.client.Timeout)
	defer cancel()
	if err := ws.post(ctx, body); err != nil {
		slog.Warn("failed to send audit batch", "events", len(batch), "error", err)
	}
}

func (ws *WebhookShipper) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any queued events and waits for the final POST to finish.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.stop) })
	<-ws.stopped
	return nil
}
