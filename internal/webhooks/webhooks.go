// Package webhooks notifies external endpoints when the ledger applies a
// milestone update.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
)

const (
	defaultTimeout     = 500 * time.Millisecond
	defaultConcurrency = 4
)

// Payload is the webhook body for an applied milestone update.
type Payload struct {
	UpdateID        string       `json:"update_id"`
	ComponentID     string       `json:"component_id"`
	DrawingID       string       `json:"drawing_id"`
	Template        string       `json:"template"`
	Milestone       string       `json:"milestone"`
	Value           domain.Value `json:"value"`
	PercentComplete float64      `json:"percent_complete"`
	ActorID         string       `json:"actor_id"`
	AuditID         int64        `json:"audit_id"`
}

// Dispatcher posts payloads to a fixed set of URL templates. URLs may
// contain {component_id} and {drawing_id}.
type Dispatcher struct {
	urls        []string
	client      *http.Client
	concurrency int
	logger      *slog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client (500ms timeout)
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Dispatcher) { d.client = hc }
}

// WithLogger sets where delivery failures are logged
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New returns a dispatcher for urls. Blank and duplicate entries are dropped.
func New(urls []string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:      &http.Client{Timeout: defaultTimeout},
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	seen := map[string]struct{}{}
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		d.urls = append(d.urls, raw)
	}
	return d
}

// Enabled reports whether any URL is configured
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.urls) > 0
}

// Targets templates, normalizes and de-dupes the configured URLs for payload.
func (d *Dispatcher) Targets(payload Payload) []string {
	if !d.Enabled() {
		return nil
	}

	seen := make(map[string]struct{}, len(d.urls))
	var normalized []string
	for _, raw := range d.urls {
		templated := strings.TrimSpace(applyTemplate(raw, payload))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidWebhookURL(templated) {
			d.logger.Warn("skipping invalid webhook url", "url", templated)
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}
	return normalized
}

// Dispatch posts payload to every target and waits for the deliveries.
// Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) {
	urls := d.Targets(payload)
	if len(urls) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode webhook payload", "err", err)
		return
	}

	workers := d.concurrency
	if len(urls) < workers {
		workers = len(urls)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				d.send(ctx, endpoint, body)
			}
		}()
	}

	for _, endpoint := range urls {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, endpoint string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("webhook request build failed", "url", endpoint, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery failed", "url", endpoint, "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.logger.Warn("webhook rejected", "url", endpoint, "status", resp.StatusCode)
	}
}

func applyTemplate(raw string, payload Payload) string {
	result := strings.ReplaceAll(raw, "{component_id}", url.PathEscape(payload.ComponentID))
	result = strings.ReplaceAll(result, "{drawing_id}", url.PathEscape(payload.DrawingID))
	return result
}

func isValidWebhookURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}
