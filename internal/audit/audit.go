// Package audit ships tagged business events (orders placed, trades
// settled, cancellations) to the external audit service. Delivery is
// best-effort and batched; a Send never blocks or fails the operation that
// emitted it.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the emission interface consumed by the engine.
type Logger interface {
	Send(tag string, data any)
}

// Nop discards every event. Used in tests and when no endpoint is set.
type Nop struct{}

func (Nop) Send(string, any) {}

type event struct {
	Tag  string    `json:"tag"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Client batches events and flushes them to POST {endpoint}/send_bulk on an
// interval. Flush failures are logged and the batch is dropped — audit
// delivery never feeds back into the calling operation's error path.
type Client struct {
	endpoint string
	appID    string
	httpc    *http.Client
	log      *slog.Logger

	mu    sync.Mutex
	queue []event

	done chan struct{}
	wg   sync.WaitGroup
}

const flushInterval = 200 * time.Millisecond

// NewClient creates an audit client and starts its flush loop.
func NewClient(endpoint, appID string, log *slog.Logger) *Client {
	c := &Client{
		endpoint: endpoint,
		appID:    appID,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		log:      log,
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Send enqueues one tagged event. Never blocks beyond the queue append.
func (c *Client) Send(tag string, data any) {
	c.mu.Lock()
	c.queue = append(c.queue, event{Tag: tag, Time: time.Now().UTC(), Data: data})
	c.mu.Unlock()
}

// Close flushes the remaining events and stops the loop.
func (c *Client) Close() {
	close(c.done)
	c.wg.Wait()
	c.flush()
}

func (c *Client) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.done:
			return
		}
	}
}

func (c *Client) flush() {
	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := c.sendBulk(batch); err != nil {
		c.log.Warn("audit flush failed", "events", len(batch), "err", err)
	}
}

func (c *Client) sendBulk(batch []event) error {
	u, err := url.JoinPath(c.endpoint, "/send_bulk")
	if err != nil {
		return err
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.appID)
	req.Header.Set("X-Request-Id", uuid.NewString())

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("send_bulk: status=%d", res.StatusCode)
	}
	return nil
}
