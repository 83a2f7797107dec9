// Package view connects the world to attached view services: a push
// notifier that POSTs flushed update batches to each registered view, and
// the HTTP storage handler the view side serves them from.
package view

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"blockworld.ai/internal/protocol"
)

// Notifier fans update batches out to registered view base URLs. PushUpdate
// only enqueues, so a slow or unreachable view can never block the world
// loop; the Run goroutine does the actual POSTs.
type Notifier struct {
	log     *log.Logger
	client  *http.Client
	metrics *Metrics

	mu    sync.Mutex
	views map[string]struct{}

	queue chan protocol.UpdateBatch
}

func NewNotifier(logger *log.Logger, m *Metrics) *Notifier {
	return &Notifier{
		log:     logger,
		client:  &http.Client{Timeout: 2 * time.Second},
		metrics: m,
		views:   map[string]struct{}{},
		queue:   make(chan protocol.UpdateBatch, 256),
	}
}

// Add registers a view by base URL; the notifier POSTs batches to
// <base>/updates. Adding an already-registered view is a no-op.
func (n *Notifier) Add(base string) error {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("view url %q: want http(s)://host[:port][/path]", base)
	}
	n.mu.Lock()
	n.views[u.String()] = struct{}{}
	n.mu.Unlock()
	return nil
}

// Remove unregisters a view. Removing an unknown view is a no-op.
func (n *Notifier) Remove(base string) {
	n.mu.Lock()
	delete(n.views, strings.TrimRight(base, "/"))
	n.mu.Unlock()
}

func (n *Notifier) List() []string {
	n.mu.Lock()
	out := make([]string, 0, len(n.views))
	for v := range n.views {
		out = append(out, v)
	}
	n.mu.Unlock()
	sort.Strings(out)
	return out
}

// PushUpdate implements world.UpdateSink. Batches are dropped, not queued
// unboundedly, when the notifier falls behind; views resynchronize from the
// next full state push.
func (n *Notifier) PushUpdate(batch protocol.UpdateBatch) {
	select {
	case n.queue <- batch:
	default:
		n.metrics.dropped()
	}
}

// Run drains the queue until the context ends.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-n.queue:
			n.deliver(ctx, batch)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, batch protocol.UpdateBatch) {
	body, err := json.Marshal(batch)
	if err != nil {
		return
	}
	for _, base := range n.List() {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/updates", bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.client.Do(req)
		if err != nil {
			n.metrics.post(false)
			n.log.Printf("view %s: post updates: %v", base, err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			n.metrics.post(false)
			n.log.Printf("view %s: post updates: status %d", base, resp.StatusCode)
			continue
		}
		n.metrics.post(true)
	}
}
