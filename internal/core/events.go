package core

import (
	"fmt"
	"sync"
)

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	EventTunnelAdded EventType = iota
	EventTunnelModified
	EventTunnelMoved
	EventTunnelRemoved
	EventTunnelStatusChanged
	EventActivationAttemptFailed
	EventActivationFailed
	EventActivationSucceeded
	EventOnDemandChanged
	EventConfigReloaded
)

func (t EventType) String() string {
	switch t {
	case EventTunnelAdded:
		return "tunnel_added"
	case EventTunnelModified:
		return "tunnel_modified"
	case EventTunnelMoved:
		return "tunnel_moved"
	case EventTunnelRemoved:
		return "tunnel_removed"
	case EventTunnelStatusChanged:
		return "status_changed"
	case EventActivationAttemptFailed:
		return "activation_attempt_failed"
	case EventActivationFailed:
		return "activation_failed"
	case EventActivationSucceeded:
		return "activation_succeeded"
	case EventOnDemandChanged:
		return "on_demand_changed"
	case EventConfigReloaded:
		return "config_reloaded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	parsed, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for _, t := range AllEventTypes() {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Event carries data about something that happened in the system.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// ListPayload is the payload for added/modified/removed list events.
type ListPayload struct {
	Index  int    `json:"index"`
	Tunnel string `json:"tunnel"`
}

// MovePayload is the payload for EventTunnelMoved.
type MovePayload struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Tunnel string `json:"tunnel"`
}

// StatusPayload is the payload for EventTunnelStatusChanged.
type StatusPayload struct {
	Tunnel    string       `json:"tunnel"`
	OldStatus TunnelStatus `json:"old_status"`
	NewStatus TunnelStatus `json:"new_status"`
}

// ActivationPayload is the payload for the activation result events.
// Err is nil for EventActivationSucceeded.
type ActivationPayload struct {
	Tunnel string `json:"tunnel"`
	Err    error  `json:"-"`
	Reason string `json:"error,omitempty"`
}

// OnDemandPayload is the payload for EventOnDemandChanged.
type OnDemandPayload struct {
	Tunnel  string `json:"tunnel"`
	Enabled bool   `json:"enabled"`
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between system components.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	nextID   uint64
}

type handlerEntry struct {
	id uint64
	h  Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a handler for the given event types and returns a
// function that removes it again.
func (eb *EventBus) Subscribe(h Handler, types ...EventType) (unsubscribe func()) {
	eb.mu.Lock()
	eb.nextID++
	id := eb.nextID
	for _, t := range types {
		eb.handlers[t] = append(eb.handlers[t], handlerEntry{id: id, h: h})
	}
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		for _, t := range types {
			list := eb.handlers[t]
			for i, e := range list {
				if e.id == id {
					eb.handlers[t] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		}
	}
}

// Publish fires an event to all subscribed handlers synchronously.
func (eb *EventBus) Publish(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, entry := range handlers {
		entry.h(e)
	}
}

// PublishAsync fires an event to all subscribed handlers in goroutines.
func (eb *EventBus) PublishAsync(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, entry := range handlers {
		go entry.h(e)
	}
}

// AllEventTypes lists every event type, for subscribers that want everything.
func AllEventTypes() []EventType {
	types := make([]EventType, 0, int(EventConfigReloaded)+1)
	for t := EventTunnelAdded; t <= EventConfigReloaded; t++ {
		types = append(types, t)
	}
	return types
}
