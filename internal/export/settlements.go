// Package export delivers settled swaps to an external webhook in batches.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/swap"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

// Record is one settled swap as delivered to the webhook
type Record struct {
	ID          string               `json:"id"`
	Chain       types.SupportedChain `json:"chain"`
	Intent      string               `json:"intent"`
	Outcome     string               `json:"outcome"`
	TxHash      string               `json:"tx_hash"`
	ApprovalTx  string               `json:"approval_tx,omitempty"`
	Block       string               `json:"block,omitempty"`
	ExplorerURL string               `json:"explorer_url,omitempty"`
	SettledAt   time.Time            `json:"settled_at"`
}

// NewRecord flattens a settlement
func NewRecord(chain types.SupportedChain, s *swap.Settlement, at time.Time) Record {
	r := Record{
		ID:          s.ID,
		Chain:       chain,
		Intent:      s.Intent.String(),
		Outcome:     s.Outcome.String(),
		TxHash:      s.TxHash.Hex(),
		ExplorerURL: s.ExplorerURL,
		SettledAt:   at.UTC(),
	}
	if s.ApprovalTx != nil {
		r.ApprovalTx = s.ApprovalTx.Hex()
	}
	if s.BlockNumber != nil {
		r.Block = s.BlockNumber.String()
	}
	return r
}

// Config holds configuration for settlement exporting
type Config struct {
	WebhookURL    string
	WebhookAPIKey string

	// BatchSize triggers an immediate export once this many records are pending
	BatchSize int

	// Interval between periodic exports
	Interval time.Duration

	Retries int
	Timeout time.Duration
}

// maxPendingBatches bounds how many undelivered batches are kept for retry
const maxPendingBatches = 10

// Exporter batches settlements and posts them to a webhook. An Exporter
// without a webhook URL accepts and discards records.
type Exporter struct {
	config Config
	client *retryablehttp.Client
	log    *logrus.Entry

	mu         sync.Mutex
	pending    []Record
	lastExport time.Time
	exported   int
	failures   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an exporter and starts its periodic export loop
func New(config Config) *Exporter {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	e := &Exporter{
		config: config,
		log:    logrus.WithField("component", "settlement-export"),
	}
	if config.WebhookURL == "" {
		return e
	}

	e.client = retryablehttp.NewClient()
	e.client.RetryMax = config.Retries
	e.client.HTTPClient.Timeout = config.Timeout
	e.client.Logger = nil

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.wg.Add(1)
	go e.periodicExport()

	e.log.WithFields(logrus.Fields{
		"batch_size": config.BatchSize,
		"interval":   config.Interval,
	}).Info("Settlement exporter started")
	return e
}

// Enabled reports whether records are delivered anywhere
func (e *Exporter) Enabled() bool {
	return e.client != nil
}

// Add queues a settlement for export
func (e *Exporter) Add(chain types.SupportedChain, s *swap.Settlement) {
	if !e.Enabled() || s == nil {
		return
	}

	e.mu.Lock()
	e.pending = append(e.pending, NewRecord(chain, s, time.Now()))
	full := len(e.pending) >= e.config.BatchSize
	e.mu.Unlock()

	if full {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.export(e.ctx)
		}()
	}
}

func (e *Exporter) periodicExport() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.export(e.ctx)
		case <-e.ctx.Done():
			return
		}
	}
}

// export sends everything pending. A failed batch goes back to the queue.
func (e *Exporter) export(ctx context.Context) {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	err := e.post(ctx, batch)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.failures++
		e.pending = append(batch, e.pending...)
		if limit := maxPendingBatches * e.config.BatchSize; len(e.pending) > limit {
			e.log.Warnf("Dropping %d undelivered settlements", len(e.pending)-limit)
			e.pending = e.pending[len(e.pending)-limit:]
		}
		e.log.WithError(err).Errorf("Failed to export %d settlements", len(batch))
		return
	}
	e.exported += len(batch)
	e.lastExport = time.Now()
	e.log.Infof("Exported %d settlements", len(batch))
}

func (e *Exporter) post(ctx context.Context, batch []Record) error {
	body, err := json.Marshal(struct {
		Settlements []Record `json:"settlements"`
		ExportTime  string   `json:"export_time"`
		Count       int      `json:"count"`
	}{
		Settlements: batch,
		ExportTime:  time.Now().UTC().Format(time.RFC3339),
		Count:       len(batch),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal settlements: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, body)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Stop ends the periodic loop and makes a last delivery attempt
func (e *Exporter) Stop() {
	if !e.Enabled() {
		return
	}
	e.cancel()
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()
	e.export(ctx)
}

// Status summarises the exporter for status endpoints and logs
type Status struct {
	Enabled    bool      `json:"enabled"`
	Pending    int       `json:"pending"`
	Exported   int       `json:"exported"`
	Failures   int       `json:"failures"`
	LastExport time.Time `json:"last_export,omitempty"`
}

// Status returns the current counters
func (e *Exporter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Enabled:    e.Enabled(),
		Pending:    len(e.pending),
		Exported:   e.exported,
		Failures:   e.failures,
		LastExport: e.lastExport,
	}
}
