package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// JSONMap is an open-ended JSON object column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// StringList is a JSON array-of-strings column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Contains reports whether the list contains s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}

// RegistrationState is the lifecycle state of a registration.
type RegistrationState string

const (
	RegistrationStatePending  RegistrationState = "pending"
	RegistrationStateCreated  RegistrationState = "created"
	RegistrationStateCanceled RegistrationState = "canceled"
)

// Registration is a person's signup for an event.
type Registration struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	State         RegistrationState `db:"state" json:"state"`
	EventID       string            `db:"event_id" json:"event_id"`
	Version       int               `db:"version" json:"version"`
	DateCreated   time.Time         `db:"date_created" json:"date_created"`
	DateUpdated   *time.Time        `db:"date_updated" json:"date_updated,omitempty"`
	Number        *int              `db:"number" json:"number,omitempty"`
	OptionIDs     StringList        `db:"option_ids" json:"option_ids"`
	Email         *string           `db:"email" json:"email,omitempty"`
	FirstName     *string           `db:"first_name" json:"first_name,omitempty"`
	LastName      *string           `db:"last_name" json:"last_name,omitempty"`
	PreferredName *string           `db:"preferred_name" json:"preferred_name,omitempty"`
	ExtraData     JSONMap           `db:"extra_data" json:"extra_data"`

	// version bump latch, once per unit of work
	updated bool
}

// DisplayName returns a human-facing name for the registration.
func (r *Registration) DisplayName() string {
	switch {
	case r.PreferredName != nil && *r.PreferredName != "":
		return *r.PreferredName
	case (r.FirstName != nil && *r.FirstName != "") || (r.LastName != nil && *r.LastName != ""):
		name := ""
		if r.FirstName != nil {
			name = *r.FirstName
		}
		if r.LastName != nil && *r.LastName != "" {
			if name != "" {
				name += " "
			}
			name += *r.LastName
		}
		return name
	case r.Email != nil && *r.Email != "":
		return *r.Email
	default:
		return "Registration"
	}
}

// MarkUpdated sets date_updated and increments the version.
// The increment happens at most once per unit of work.
func (r *Registration) MarkUpdated(now time.Time) {
	if !r.updated {
		r.updated = true
		r.Version++
		t := now
		r.DateUpdated = &t
	}
}

// Complete transitions the registration to created.
// Returns whether a change was made; already-created is a no-op.
func (r *Registration) Complete(now time.Time) (bool, error) {
	if r.State == RegistrationStateCreated {
		return false, nil
	}
	if r.State != RegistrationStatePending {
		return false, fmt.Errorf("registration %s is not pending", r.ID)
	}
	r.State = RegistrationStateCreated
	r.DateCreated = now
	r.MarkUpdated(now)
	return true, nil
}

// Cancel transitions the registration to canceled.
// Returns whether a change was made; already-canceled is a no-op.
func (r *Registration) Cancel(now time.Time) bool {
	if r.State == RegistrationStateCanceled {
		return false
	}
	r.State = RegistrationStateCanceled
	r.MarkUpdated(now)
	return true
}

// AssignNumber assigns the next registration number from the event stats.
// Does nothing if a number is already assigned.
func (r *Registration) AssignNumber(stats *EventStats, now time.Time) int {
	if r.Number != nil {
		return *r.Number
	}
	n := stats.NextNumber
	r.Number = &n
	stats.NextNumber++
	r.MarkUpdated(now)
	return n
}

// writableRegistration is the set of fields a cart change may write.
type writableRegistration struct {
	Number        *int       `json:"number"`
	OptionIDs     StringList `json:"option_ids"`
	Email         *string    `json:"email"`
	FirstName     *string    `json:"first_name"`
	LastName      *string    `json:"last_name"`
	PreferredName *string    `json:"preferred_name"`
	ExtraData     JSONMap    `json:"extra_data"`
}

// ApplyWritable replaces the writable fields from raw registration data.
// Standard fields are replaced wholesale; extra_data is deep-merged.
func (r *Registration) ApplyWritable(data JSONMap, now time.Time) error {
	var w writableRegistration
	if err := remarshal(data, &w); err != nil {
		return fmt.Errorf("invalid registration data: %w", err)
	}

	r.Number = w.Number
	r.OptionIDs = w.OptionIDs
	r.Email = w.Email
	r.FirstName = w.FirstName
	r.LastName = w.LastName
	r.PreferredName = w.PreferredName

	merged := JSONMap{}
	MergeJSON(merged, r.ExtraData)
	MergeJSON(merged, w.ExtraData)
	r.ExtraData = merged

	r.MarkUpdated(now)
	return nil
}

// Data returns the registration as raw JSON data, as it appears in carts
// and hook bodies.
func (r *Registration) Data() JSONMap {
	var m JSONMap
	// a Registration always marshals to an object
	_ = remarshal(r, &m)
	return m
}

// MergeJSON merges src into dst recursively. Nested objects merge key-wise;
// any other value, or a type mismatch, overwrites.
func MergeJSON(dst, src JSONMap) {
	for k, v := range src {
		srcMap, srcOK := asJSONMap(v)
		dstMap, dstOK := asJSONMap(dst[k])
		if srcOK && dstOK {
			merged := JSONMap{}
			MergeJSON(merged, dstMap)
			MergeJSON(merged, srcMap)
			dst[k] = merged
		} else {
			dst[k] = v
		}
	}
}

func asJSONMap(v interface{}) (JSONMap, bool) {
	switch m := v.(type) {
	case JSONMap:
		return m, true
	case map[string]interface{}:
		return m, true
	default:
		return nil, false
	}
}

func remarshal(src, dest interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// CheckoutState is the state of a checkout.
type CheckoutState string

const (
	CheckoutStatePending  CheckoutState = "pending"
	CheckoutStateComplete CheckoutState = "complete"
	CheckoutStateCanceled CheckoutState = "canceled"
)

// Checkout records one payment-provider checkout attempt.
type Checkout struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	State          CheckoutState `db:"state" json:"state"`
	DateCreated    time.Time     `db:"date_created" json:"date_created"`
	DateClosed     *time.Time    `db:"date_closed" json:"date_closed,omitempty"`
	ChangesApplied bool          `db:"changes_applied" json:"changes_applied"`
	Service        string        `db:"service" json:"service"`
	ExternalID     string        `db:"external_id" json:"external_id"`
	ExternalData   JSONMap       `db:"external_data" json:"external_data"`
	CartID         string        `db:"cart_id" json:"cart_id"`
	CartData       JSONMap       `db:"cart_data" json:"cart_data"`
	PricingResult  JSONMap       `db:"pricing_result" json:"pricing_result"`
}

// IsOpen reports whether the checkout is still pending.
func (c *Checkout) IsOpen() bool {
	return c.State == CheckoutStatePending
}

// Complete sets the state to complete. Returns whether a change was made;
// completing an already-complete checkout is a no-op, completing a canceled
// one is an error.
func (c *Checkout) Complete(closed time.Time) (bool, error) {
	if c.State == CheckoutStateComplete {
		return false, nil
	}
	if c.State != CheckoutStatePending {
		return false, fmt.Errorf("checkout %s is canceled", c.ID)
	}
	c.State = CheckoutStateComplete
	t := closed
	c.DateClosed = &t
	return true, nil
}

// Cancel sets the state to canceled. Returns whether a change was made;
// canceling an already-canceled checkout is a no-op, canceling a complete
// one is an error.
func (c *Checkout) Cancel(closed time.Time) (bool, error) {
	if c.State == CheckoutStateCanceled {
		return false, nil
	}
	if c.State != CheckoutStatePending {
		return false, fmt.Errorf("checkout %s is complete", c.ID)
	}
	c.State = CheckoutStateCanceled
	t := closed
	c.DateClosed = &t
	return true, nil
}

// SetCartData snapshots the cart into the checkout.
func (c *Checkout) SetCartData(cart CartData) error {
	hash, err := cart.Hash()
	if err != nil {
		return err
	}
	var data JSONMap
	if err := remarshal(cart, &data); err != nil {
		return err
	}
	c.CartID = hash
	c.CartData = data
	return nil
}

// CartDataModel returns the snapshotted CartData.
func (c *Checkout) CartDataModel() (CartData, error) {
	var cart CartData
	if err := remarshal(c.CartData, &cart); err != nil {
		return CartData{}, fmt.Errorf("invalid cart data in checkout %s: %w", c.ID, err)
	}
	return cart, nil
}

// SetPricingResult snapshots the pricing result into the checkout.
func (c *Checkout) SetPricingResult(result PricingResult) error {
	var data JSONMap
	if err := remarshal(result, &data); err != nil {
		return err
	}
	c.PricingResult = data
	return nil
}

// HookRetryDelays is the fixed backoff table between hook delivery attempts.
var HookRetryDelays = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	60 * time.Second,
	600 * time.Second,
	1 * time.Hour,
	2 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// HookNumRetries is the number of re-delivery attempts before giving up.
var HookNumRetries = len(HookRetryDelays)

// HookLog is a durable, at-least-once hook delivery work item.
type HookLog struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	Attempts int        `db:"attempts" json:"attempts"`
	RetryAt  *time.Time `db:"retry_at" json:"retry_at,omitempty"`
	Config   []byte     `db:"config" json:"config"`
	Body     []byte     `db:"body" json:"body"`
}

// NewHookLog creates a work item that is immediately eligible for its first
// delivery attempt.
func NewHookLog(config, body []byte, now time.Time) *HookLog {
	t := now
	return &HookLog{
		ID:       uuid.New(),
		Attempts: 0,
		RetryAt:  &t,
		Config:   config,
		Body:     body,
	}
}

// Eligible reports whether the item may be attempted now.
func (h *HookLog) Eligible(now time.Time) bool {
	return h.RetryAt != nil && !h.RetryAt.After(now)
}

// UpdateAttempts records a failed attempt and computes the next retry time,
// or nil once the retry table is exhausted.
func (h *HookLog) UpdateAttempts(now time.Time) *time.Time {
	n := h.Attempts
	h.Attempts++
	if h.Attempts > HookNumRetries {
		h.RetryAt = nil
		return nil
	}
	t := now.Add(HookRetryDelays[n])
	h.RetryAt = &t
	return h.RetryAt
}

// EventStats tracks per-event counters, in particular the next
// human-facing registration number.
type EventStats struct {
	ID         string `db:"id" json:"id"`
	NextNumber int    `db:"next_number" json:"next_number"`
}

// Cart is a stored, content-addressed cart row.
type Cart struct {
	ID            string    `db:"id" json:"id"`
	DateCreated   time.Time `db:"date_created" json:"date_created"`
	CartData      JSONMap   `db:"cart_data" json:"cart_data"`
	PricingResult JSONMap   `db:"pricing_result" json:"pricing_result,omitempty"`
}

// NewCart builds a cart row from cart data, keyed by its content hash.
func NewCart(data CartData, now time.Time) (*Cart, error) {
	hash, err := data.Hash()
	if err != nil {
		return nil, err
	}
	var raw JSONMap
	if err := remarshal(data, &raw); err != nil {
		return nil, err
	}
	return &Cart{
		ID:          hash,
		DateCreated: now,
		CartData:    raw,
	}, nil
}

// CartDataModel returns the stored CartData.
func (c *Cart) CartDataModel() (CartData, error) {
	var cart CartData
	if err := remarshal(c.CartData, &cart); err != nil {
		return CartData{}, fmt.Errorf("invalid cart data in cart %s: %w", c.ID, err)
	}
	return cart, nil
}
