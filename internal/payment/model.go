package payment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const ProviderCallback = "CALLBACK"

// Event is the payment-status callback body.
type Event struct {
	EventID       string    `json:"eventId"`
	OrderID       uuid.UUID `json:"orderId"`
	Status        string    `json:"status"`
	TransactionID *string   `json:"transactionId,omitempty"`
}

// Webhook is one received callback as stored in payment_webhooks.
type Webhook struct {
	ID             int64
	Provider       string
	EventID        string
	OrderID        uuid.UUID
	Status         string
	SignatureValid bool
	Payload        json.RawMessage
	ProcessedAt    *time.Time
	ProcessError   *string
}
