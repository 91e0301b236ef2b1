package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingRequested = "booking.requested"
	EventBookingApproved  = "booking.approved"
	EventBookingDeclined  = "booking.declined"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"

	EventPaymentInitiated = "payment.initiated"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	EventCapacityAdjusted          = "capacity.adjusted"
	EventReconciliationDiscrepancy = "reconciliation.discrepancy"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID    int64     `json:"booking_id"`
	Reference    string    `json:"reference"`
	UserID       int64     `json:"user_id"`
	HospitalID   int64     `json:"hospital_id"`
	ResourceType string    `json:"resource_type"`
	Status       string    `json:"status"`
	Urgency      string    `json:"urgency"`
	WindowStart  time.Time `json:"window_start"`
	Reason       string    `json:"reason,omitempty"`
	ActorID      int64     `json:"actor_id,omitempty"`
	ActorRole    string    `json:"actor_role,omitempty"`
}

// PaymentEventPayload describes a payment outcome for event consumers.
type PaymentEventPayload struct {
	TransactionID    int64  `json:"transaction_id"`
	BookingID        int64  `json:"booking_id"`
	UserID           int64  `json:"user_id"`
	HospitalID       int64  `json:"hospital_id"`
	Amount           int64  `json:"amount"`
	PlatformFee      int64  `json:"platform_fee"`
	HospitalShare    int64  `json:"hospital_share"`
	Status           string `json:"status"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// CapacityEventPayload describes an administrative total adjustment.
type CapacityEventPayload struct {
	HospitalID   int64  `json:"hospital_id"`
	ResourceType string `json:"resource_type"`
	Delta        int64  `json:"delta"`
	ActorID      int64  `json:"actor_id"`
	ActorRole    string `json:"actor_role"`
	Reason       string `json:"reason,omitempty"`
}

// DiscrepancyEventPayload describes a reconciliation mismatch.
type DiscrepancyEventPayload struct {
	RunID            string `json:"run_id"`
	Scope            string `json:"scope"`
	Subject          string `json:"subject"`
	ExpectedValue    int64  `json:"expected_value"`
	ActualValue      int64  `json:"actual_value"`
	Discrepancy      int64  `json:"discrepancy"`
	ResolutionAction string `json:"resolution_action"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events. Delivery mechanics
// beyond this boundary belong to the notification collaborator.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
