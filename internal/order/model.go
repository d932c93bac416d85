package order

import (
	"time"

	"flipflop-be/internal/inventory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered, StatusCancelled},
}

var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range allowedPaymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID                   uuid.UUID       `json:"id"`
	OrderNumber          string          `json:"orderNumber"`
	UserID               uint            `json:"userId"`
	CustomerEmail        string          `json:"customerEmail,omitempty"`
	DeliveryAddressID    uuid.UUID       `json:"deliveryAddressId"`
	Status               Status          `json:"status"`
	PaymentStatus        PaymentStatus   `json:"paymentStatus"`
	PaymentMethod        string          `json:"paymentMethod"`
	PaymentTransactionID *string         `json:"paymentTransactionId,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	ShippingCost         decimal.Decimal `json:"shippingCost"`
	Discount             decimal.Decimal `json:"discount"`
	Total                decimal.Decimal `json:"total"`
	Notes                *string         `json:"notes,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`

	Items         []OrderLine             `json:"items"`
	StatusHistory []StatusEvent           `json:"statusHistory,omitempty"`
	Reservations  []inventory.Reservation `json:"-"`
}

type OrderLine struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"orderId"`
	ProductID   uuid.UUID       `json:"productId"`
	VariantID   *uuid.UUID      `json:"variantId,omitempty"`
	ProductName string          `json:"productName"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

type StatusEvent struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"orderId"`
	Status    Status    `json:"status"`
	Note      string    `json:"note"`
	Actor     *uint     `json:"actor,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateOrderInput struct {
	UserID            uint
	DeliveryAddressID uuid.UUID
	PaymentMethod     string
	Notes             *string
	ShippingCost      decimal.Decimal
	Discount          decimal.Decimal
}

// createParams is everything persisted by one checkout transaction.
type createParams struct {
	Order        *Order
	CartLineIDs  []uuid.UUID
	Reservations []inventory.Reservation
}
