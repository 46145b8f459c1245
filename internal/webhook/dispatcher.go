// Package webhook delivers completion events to a configured endpoint with
// HMAC-SHA256 signed payloads and exponential-backoff retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantai/surveyflow/internal/progress"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher queues completion events and delivers them to the configured
// endpoint on a background worker. It implements progress.Hook.
type Dispatcher struct {
	url    string
	secret string
	client *http.Client
	queue  chan progress.HookEvent
	done   chan struct{}
	closed int32 // atomic flag to prevent double-close
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher for the given endpoint.
func NewDispatcher(url, secret string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: requestTimeout},
		queue:  make(chan progress.HookEvent, queueSize),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Start begins processing events from the queue.
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close gracefully shuts down the dispatcher, waiting for pending deliveries.
// Safe to call multiple times.
func (d *Dispatcher) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	close(d.queue)
	<-d.done
	return nil
}

// Fire queues an event for delivery. Non-blocking: when the queue is full
// the event is dropped and logged rather than slowing the submission path.
func (d *Dispatcher) Fire(_ context.Context, evt progress.HookEvent) {
	select {
	case d.queue <- evt:
	default:
		d.log.Error().Str("type", evt.Type).Int64("survey", evt.SurveyID).Msg("queue full, dropping event")
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for evt := range d.queue {
		d.deliverWithRetry(context.Background(), evt)
	}
}

// deliverWithRetry attempts delivery with exponential backoff.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, evt progress.HookEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		d.log.Error().Err(err).Str("type", evt.Type).Msg("failed to marshal event payload")
		return
	}

	signature := ComputeHMAC(payload, d.secret)
	deliveryID := uuid.New().String()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			d.log.Error().Err(err).Str("url", d.url).Msg("failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Surveyflow-Signature", signature)
		req.Header.Set("X-Surveyflow-Event", evt.Type)
		req.Header.Set("X-Surveyflow-Delivery", deliveryID)

		resp, err := d.client.Do(req)
		duration := time.Since(start)

		var statusCode int
		if err == nil {
			statusCode = resp.StatusCode
			resp.Body.Close()
		}

		if err == nil && statusCode >= 200 && statusCode < 300 {
			d.log.Info().
				Str("type", evt.Type).
				Int("status", statusCode).
				Dur("duration", duration).
				Int("attempt", attempt+1).
				Msg("delivery succeeded")
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			d.log.Warn().
				Err(err).
				Int("status", statusCode).
				Int("attempt", attempt+1).
				Dur("retry_in", backoff).
				Msg("delivery failed, retrying")
			time.Sleep(backoff)
		} else {
			d.log.Error().
				Err(err).
				Int("status", statusCode).
				Int("attempts", attempt+1).
				Msg("delivery failed permanently")
		}
	}
}
