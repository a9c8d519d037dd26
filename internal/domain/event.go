package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Extension lifecycle events.
	EventExtensionInstalled   EventType = "extension.installed"
	EventExtensionActivated   EventType = "extension.activated"
	EventExtensionDeactivated EventType = "extension.deactivated"
	EventExtensionUninstalled EventType = "extension.uninstalled"
	EventExtensionError       EventType = "extension.error"

	// Permission events.
	EventPermissionGranted EventType = "permission.granted"
	EventPermissionRevoked EventType = "permission.revoked"

	// Guest-originated UI events, forwarded to the editor layer.
	EventUINotification EventType = "ui.notification"
	EventUIStatusBar    EventType = "ui.statusbar"

	// Command events.
	EventCommandRegistered EventType = "command.registered"
	EventCommandExecuted   EventType = "command.executed"
)

// Event is the envelope published on the event bus. The ID is a ULID so
// consumers can order and de-duplicate events.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Extension string          `json:"extension,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for host events. It is
// the channel through which guest-originated notifications, status-bar
// updates, and command registrations reach the UI layer.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
