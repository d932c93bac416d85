package notification

import "github.com/shopspring/decimal"

type Type string

const (
	TypeOrderConfirmation   Type = "order_confirmation"
	TypeOrderStatusUpdate   Type = "order_status_update"
	TypePaymentConfirmation Type = "payment_confirmation"
)

// Message is the payload published for every order notification.
type Message struct {
	Type        Type            `json:"type"`
	OrderNumber string          `json:"orderNumber"`
	Total       decimal.Decimal `json:"total"`
	Recipient   string          `json:"recipient"`
	Status      string          `json:"status,omitempty"`
}
