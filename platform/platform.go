// Package platform forwards scheduler-generated lifecycle events to a
// remote HTTP ingest endpoint over a bounded, non-blocking queue
// (spec.md §4.4, §6.5).
package platform

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// EventType is one of the stable wire-contract event names (spec.md §4.4).
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventItemStarted    EventType = "item_started"
	EventMetricScored   EventType = "metric_scored"
	EventItemCompleted  EventType = "item_completed"
	EventItemFailed     EventType = "item_failed"
	EventMetadataUpdate EventType = "metadata_update"
	EventRunCompleted   EventType = "run_completed"
)

// criticalEvents never get dropped by queue overflow and support the
// synchronous Emit variant (spec.md §4.4).
var criticalEvents = map[EventType]bool{
	EventRunStarted:   true,
	EventRunCompleted: true,
}

// envelope is the wire format POSTed to the platform ingest endpoint
// (spec.md §6.5): {event_type, payload, timestamp}.
type envelope struct {
	EventType EventType `json:"event_type"`
	Payload   any       `json:"payload"`
	Timestamp string    `json:"timestamp"`
}

// CreateResponse is the run-creation handshake response (spec.md §6.5).
type CreateResponse struct {
	RunID   string `json:"run_id"`
	LiveURL string `json:"live_url"`
}

// HTTPDoer is the minimal client surface Stream needs; satisfied by
// *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Stream.
type Config struct {
	BaseURL    string
	APIKey     string
	RunID      string
	QueueSize  int           // default 1024
	HTTPClient HTTPDoer      // default http.DefaultClient
	Timeout    time.Duration // per-request timeout, default 10s
	Now        func() time.Time
}

// Stream is the bounded-queue async emitter to the platform's remote HTTP
// ingest endpoint. Emit is non-blocking and never returns an error to the
// caller: transient failures are retried in the background, persistent
// failures permanently disable the stream for the rest of the run
// (spec.md §4.4, error kind PlatformUnavailable).
type Stream struct {
	cfg    Config
	client HTTPDoer
	now    func() time.Time

	queue chan queuedEvent
	done  chan struct{}

	limiter *rate.Limiter

	disabled atomic.Bool
	dropped  atomic.Int64

	warnOnce sync.Once
}

type queuedEvent struct {
	env      envelope
	critical bool
	ack      chan error // non-nil for synchronous emits
}

// New constructs and starts a Stream's background emitter goroutine.
func New(cfg Config) *Stream {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Stream{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		now:     now,
		queue:   make(chan queuedEvent, cfg.QueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
	go s.run()
	return s
}

// Create performs the run-creation handshake required before any item
// events are accepted for this run (spec.md §6.5). On success, s.cfg.RunID
// is populated from the response if it was empty.
func (s *Stream) Create(ctx context.Context, runName string, meta map[string]any) (CreateResponse, error) {
	body, err := json.Marshal(map[string]any{"run_name": runName, "metadata": meta})
	if err != nil {
		return CreateResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return CreateResponse{}, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("platform: create run: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return CreateResponse{}, fmt.Errorf("platform: create run: status %d", resp.StatusCode)
	}

	var out CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CreateResponse{}, fmt.Errorf("platform: decode create response: %w", err)
	}
	if s.cfg.RunID == "" {
		s.cfg.RunID = out.RunID
	}
	return out, nil
}

func (s *Stream) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// Emit enqueues event_type/payload for asynchronous delivery. Never
// blocks and never returns an error: when the stream is disabled or the
// queue is full, the event (or the oldest non-critical queued event) is
// dropped and a warning is logged once.
func (s *Stream) Emit(eventType EventType, payload any) {
	if s.disabled.Load() {
		return
	}
	ev := queuedEvent{
		env:      envelope{EventType: eventType, Payload: payload, Timestamp: s.now().UTC().Format(time.RFC3339Nano)},
		critical: criticalEvents[eventType],
	}
	s.enqueue(ev)
}

// EmitSync enqueues a critical event and blocks until the HTTP POST
// returns or times out (spec.md §4.4: run_started/run_completed support a
// synchronous variant).
func (s *Stream) EmitSync(ctx context.Context, eventType EventType, payload any) error {
	if s.disabled.Load() {
		return fmt.Errorf("platform: stream disabled")
	}
	ack := make(chan error, 1)
	ev := queuedEvent{
		env:      envelope{EventType: eventType, Payload: payload, Timestamp: s.now().UTC().Format(time.RFC3339Nano)},
		critical: true,
		ack:      ack,
	}
	select {
	case s.queue <- ev:
	case <-s.done:
		return fmt.Errorf("platform: stream closed")
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue implements the bounded non-blocking queue: on overflow, the
// oldest non-critical queued event is dropped to make room (spec.md §4.4).
func (s *Stream) enqueue(ev queuedEvent) {
	select {
	case s.queue <- ev:
		return
	default:
	}

	if s.dropOldestNonCritical() {
		select {
		case s.queue <- ev:
			return
		default:
		}
	}

	s.dropped.Add(1)
	s.warnOnce.Do(func() {
		log.Printf("platform: event queue full, dropping events (first drop: %s)", ev.env.EventType)
	})
}

func (s *Stream) dropOldestNonCritical() bool {
	select {
	case dropped := <-s.queue:
		if dropped.critical {
			// Put it back; critical events are never sacrificed. This can
			// reorder one critical event behind the new arrival, which is
			// an accepted tradeoff versus losing it outright.
			select {
			case s.queue <- dropped:
			default:
			}
			return false
		}
		return true
	default:
		return false
	}
}

func (s *Stream) run() {
	defer close(s.done)
	for ev := range s.queue {
		err := s.deliverWithRetry(ev.env)
		if ev.ack != nil {
			ev.ack <- err
		}
		if err != nil && isPersistent(err) {
			s.disabled.Store(true)
			log.Printf("platform: disabling event stream for run %s: %v", s.cfg.RunID, err)
		}
	}
}

// deliverWithRetry posts env, retrying transient failures with bounded
// exponential backoff (spec.md §4.4).
func (s *Stream) deliverWithRetry(env envelope) error {
	const maxAttempts = 5
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
		}
		if err := s.limiter.Wait(context.Background()); err != nil {
			return err
		}
		err := s.post(env)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

func (s *Stream) post(env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/runs/"+s.cfg.RunID+"/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &transientError{err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("platform: event rejected: status %d", resp.StatusCode)
	}
	return nil
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(*transientError)
	return ok
}

func isPersistent(err error) bool { return !isRetryable(err) }

// Close drains the queue and stops the emitter goroutine.
func (s *Stream) Close() {
	close(s.queue)
	<-s.done
}

// Disabled reports whether the stream has permanently stopped emitting
// (spec.md error kind PlatformUnavailable).
func (s *Stream) Disabled() bool { return s.disabled.Load() }

// Dropped reports how many events have been dropped due to queue overflow.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }
