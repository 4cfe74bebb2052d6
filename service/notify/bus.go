// Package notify holds the notification bus: the read-only surface through
// which the transfer flow reports what happened. Presentation (toasts,
// overlays, modals) belongs to whoever reads from the bus.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/brojonat/instapay/service/metrics"
	"github.com/google/uuid"
)

// DefaultTTL is how long non-error notifications stay visible.
const DefaultTTL = 3 * time.Second

// reconcileInterval is how often Run sweeps expired notifications.
const reconcileInterval = 250 * time.Millisecond

// Event is a single notification.
// Non-error events expire at ExpiresAt; error events have no expiry and stay
// until replaced by a newer error or dismissed.
type Event struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Message     string     `json:"message,omitempty"`
	ExplorerURL string     `json:"explorer_url,omitempty"`
	Error       bool       `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the event is past its expiry at now.
func (e Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Sink receives every published event, e.g. to forward it to another process.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus keeps the currently visible notifications and the busy signals.
type Bus struct {
	clock   clock.Clock
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	active  []Event
	signals map[string]bool
	sinks   []Sink
}

// NewBus creates a bus. A nil clock means wall-clock time; ttl <= 0 means DefaultTTL.
func NewBus(clk clock.Clock, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Bus {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Bus{
		clock:   clk,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		signals: make(map[string]bool),
	}
}

// AddSink registers a sink for all subsequently published events.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish stamps ev with an ID, creation time and (for non-errors) expiry,
// makes it visible and forwards it to the sinks. An event supersedes any
// visible event with the same name; an error event also supersedes every
// visible error. Sink failures are logged, never returned.
func (b *Bus) Publish(ctx context.Context, ev Event) Event {
	now := b.clock.Now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = now
	ev.ExpiresAt = nil
	if !ev.Error {
		expires := now.Add(b.ttl)
		ev.ExpiresAt = &expires
	}

	b.mu.Lock()
	kept := b.active[:0]
	for _, existing := range b.active {
		if existing.Name == ev.Name || (ev.Error && existing.Error) {
			continue
		}
		kept = append(kept, existing)
	}
	b.active = append(kept, ev)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	b.metrics.RecordNotification(ev.Name)

	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			b.logger.ErrorContext(ctx, "failed to forward notification",
				"event", ev.Name,
				"id", ev.ID,
				"error", err,
			)
		}
	}
	return ev
}

// Active returns the visible notifications, oldest first.
func (b *Bus) Active() []Event {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	events := make([]Event, 0, len(b.active))
	for _, ev := range b.active {
		if !ev.Expired(now) {
			events = append(events, ev)
		}
	}
	return events
}

// Latest returns the newest visible event with the given name.
func (b *Bus) Latest(name string) (Event, bool) {
	events := b.Active()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == name {
			return events[i], true
		}
	}
	return Event{}, false
}

// LatestError returns the visible error notification, if any.
func (b *Bus) LatestError() (Event, bool) {
	events := b.Active()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Error {
			return events[i], true
		}
	}
	return Event{}, false
}

// Dismiss removes a notification by ID.
func (b *Bus) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ev := range b.active {
		if ev.ID == id {
			b.active = append(b.active[:i], b.active[i+1:]...)
			return true
		}
	}
	return false
}

// ClearErrors removes every visible error notification.
func (b *Bus) ClearErrors() {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.active[:0]
	for _, ev := range b.active {
		if !ev.Error {
			kept = append(kept, ev)
		}
	}
	b.active = kept
}

// Reconcile drops expired notifications and returns how many were dropped.
func (b *Bus) Reconcile() int {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.active[:0]
	dropped := 0
	for _, ev := range b.active {
		if ev.Expired(now) {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	b.active = kept
	return dropped
}

// Run reconciles on a fixed tick until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	ticker := b.clock.Ticker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := b.Reconcile(); n > 0 {
				b.logger.Debug("expired notifications cleared", "count", n)
			}
		}
	}
}

// SetSignal raises or lowers a busy signal.
func (b *Bus) SetSignal(name string, on bool) {
	b.mu.Lock()
	b.signals[name] = on
	b.mu.Unlock()

	b.metrics.SetBusy(name, on)
}

// Signal reports whether a busy signal is raised.
func (b *Bus) Signal(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signals[name]
}

// Signals returns a snapshot of all busy signals.
func (b *Bus) Signals() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]bool, len(b.signals))
	for k, v := range b.signals {
		out[k] = v
	}
	return out
}
