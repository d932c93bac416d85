package address

import (
	"github.com/google/uuid"
)

type Address struct {
	ID     uuid.UUID `json:"id"`
	UserID uint      `json:"userId"`

	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`

	Street     string  `json:"street"`
	Street2    *string `json:"street2,omitempty"`
	City       string  `json:"city"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`

	IsDefault bool `json:"isDefault"`
}
