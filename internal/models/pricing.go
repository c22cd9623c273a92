package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyPricing is returned when a pricing result contains no line items.
var ErrEmptyPricing = errors.New("cart has no line items")

// PricingError is returned when a pricing result does not validate.
type PricingError struct {
	msg string
}

func (e *PricingError) Error() string { return e.msg }

// Modifier adjusts a line item or cart price.
type Modifier struct {
	TypeID string `json:"type_id,omitempty"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// LineItem represents one priced registration change.
type LineItem struct {
	TypeID         string     `json:"type_id,omitempty"`
	RegistrationID uuid.UUID  `json:"registration_id"`
	Name           string     `json:"name"`
	Price          int64      `json:"price"`
	TotalPrice     int64      `json:"total_price"`
	Modifiers      []Modifier `json:"modifiers,omitempty"`
	Description    string     `json:"description,omitempty"`
	Meta           JSONMap    `json:"meta,omitempty"`
}

// Validate checks the line item's price and total.
func (li LineItem) Validate() error {
	if li.Price < 0 {
		return &PricingError{msg: fmt.Sprintf("line item %q price cannot be negative", li.Name)}
	}
	total := li.Price
	for _, m := range li.Modifiers {
		total += m.Amount
	}
	// discounts cannot make the total negative
	if total < 0 {
		total = 0
	}
	if total != li.TotalPrice {
		return &PricingError{msg: fmt.Sprintf("line item %q total price does not sum", li.Name)}
	}
	return nil
}

// PricingResult is the official price of a cart.
type PricingResult struct {
	Currency   string     `json:"currency"`
	LineItems  []LineItem `json:"line_items"`
	TotalPrice int64      `json:"total_price"`
	Modifiers  []Modifier `json:"modifiers,omitempty"`
}

// Validate checks that the result has line items and its totals sum.
func (r PricingResult) Validate() error {
	if len(r.LineItems) == 0 {
		return ErrEmptyPricing
	}

	var total int64
	for _, li := range r.LineItems {
		if err := li.Validate(); err != nil {
			return err
		}
		total += li.TotalPrice
	}
	for _, m := range r.Modifiers {
		total += m.Amount
	}
	if total < 0 {
		total = 0
	}
	if total != r.TotalPrice {
		return &PricingError{msg: "cart total price does not sum"}
	}
	return nil
}
