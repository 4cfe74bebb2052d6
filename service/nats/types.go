package nats

import (
	"time"

	"github.com/brojonat/instapay/service/notify"
)

// Subject prefix for notification events. Events are published to
// "instapay.events.{event_name}".
const SubjectPrefix = "instapay.events."

// Subject returns the subject an event with the given name is published to.
func Subject(eventName string) string {
	return SubjectPrefix + eventName
}

// EventMessage is the wire form of a notification published to NATS.
type EventMessage struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Message     string     `json:"message,omitempty"`
	ExplorerURL string     `json:"explorer_url,omitempty"`
	Error       bool       `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	// Metadata
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// FromEvent converts a bus notification to an EventMessage for publishing.
func FromEvent(ev notify.Event, source string) *EventMessage {
	return &EventMessage{
		ID:          ev.ID,
		Name:        ev.Name,
		Message:     ev.Message,
		ExplorerURL: ev.ExplorerURL,
		Error:       ev.Error,
		CreatedAt:   ev.CreatedAt,
		ExpiresAt:   ev.ExpiresAt,
		Source:      source,
		PublishedAt: time.Now().UTC(),
	}
}
