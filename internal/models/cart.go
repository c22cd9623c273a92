package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CartHashSize is the string length of a cart hash.
const CartHashSize = 64

// CartError is returned when a cart operation cannot be completed.
type CartError struct {
	msg string
}

func (e *CartError) Error() string { return e.msg }

func newCartError(format string, args ...interface{}) *CartError {
	return &CartError{msg: fmt.Sprintf(format, args...)}
}

// InvalidChangeError is returned when a cart change cannot be applied to a
// registration, typically because the registration is out of date.
type InvalidChangeError struct {
	RegistrationID uuid.UUID
}

func (e *InvalidChangeError) Error() string {
	return fmt.Sprintf("changes cannot be applied to registration %s", e.RegistrationID)
}

// CartRegistration is one proposed registration change in a cart.
type CartRegistration struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID string    `json:"submission_id,omitempty"`
	OldData      JSONMap   `json:"old_data"`
	NewData      JSONMap   `json:"new_data"`
	Meta         JSONMap   `json:"meta,omitempty"`
}

// NewCartRegistration builds a CartRegistration from the old registration
// (nil for a first-time creation) and the desired new state.
func NewCartRegistration(old, new *Registration, submissionID string, meta JSONMap) CartRegistration {
	cr := CartRegistration{
		ID:           new.ID,
		SubmissionID: submissionID,
		OldData:      JSONMap{},
		NewData:      new.Data(),
		Meta:         meta,
	}
	if old != nil {
		cr.OldData = old.Data()
	}
	return cr
}

// OldVersion returns the registration version recorded in the old data, or
// 0 if none was recorded.
func (cr *CartRegistration) OldVersion() int {
	v, ok := cr.OldData["version"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// NewState returns the registration state in the new data.
func (cr *CartRegistration) NewState() RegistrationState {
	s, _ := cr.NewData["state"].(string)
	return RegistrationState(s)
}

// NewRegistration builds a Registration from the change's new data.
// The returned registration starts pending; state transitions are applied
// separately so they run the normal transition checks.
func (cr *CartRegistration) NewRegistration(now time.Time) (*Registration, error) {
	var reg Registration
	if err := remarshal(cr.NewData, &reg); err != nil {
		return nil, fmt.Errorf("invalid registration data for %s: %w", cr.ID, err)
	}
	reg.ID = cr.ID
	reg.State = RegistrationStatePending
	if reg.Version == 0 {
		reg.Version = 1
	}
	reg.DateCreated = now
	if reg.ExtraData == nil {
		reg.ExtraData = JSONMap{}
	}
	return &reg, nil
}

// CartData is an immutable, hashable bundle of registration changes for one
// event. Mutating methods return a new value.
type CartData struct {
	EventID       string             `json:"event_id"`
	Registrations []CartRegistration `json:"registrations"`
	Meta          JSONMap            `json:"meta,omitempty"`
}

// Hash returns the content-addressed ID of the cart: the hex SHA-256 of its
// canonical JSON serialization. Identical content yields an identical hash.
func (c CartData) Hash() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to hash cart: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// AddRegistration returns a new cart with the change appended.
func (c CartData) AddRegistration(cr CartRegistration) (CartData, error) {
	for _, existing := range c.Registrations {
		if existing.ID == cr.ID {
			return CartData{}, newCartError("registration %s is already in this cart", cr.ID)
		}
		if cr.SubmissionID != "" && existing.SubmissionID == cr.SubmissionID {
			return CartData{}, newCartError("duplicate submission %s", cr.SubmissionID)
		}
	}

	if eventID, ok := cr.NewData["event_id"].(string); ok && eventID != "" && eventID != c.EventID {
		return CartData{}, newCartError("registration event_id %q does not match the cart", eventID)
	}

	regs := make([]CartRegistration, 0, len(c.Registrations)+1)
	regs = append(regs, c.Registrations...)
	regs = append(regs, cr)
	return CartData{EventID: c.EventID, Registrations: regs, Meta: c.Meta}, nil
}

// RemoveRegistration returns a new cart with the change for the given
// registration ID removed.
func (c CartData) RemoveRegistration(id uuid.UUID) CartData {
	regs := make([]CartRegistration, 0, len(c.Registrations))
	for _, cr := range c.Registrations {
		if cr.ID != id {
			regs = append(regs, cr)
		}
	}
	return CartData{EventID: c.EventID, Registrations: regs, Meta: c.Meta}
}

// RegistrationIDs returns the IDs of all changes in the cart, in order.
func (c CartData) RegistrationIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Registrations))
	for i, cr := range c.Registrations {
		ids[i] = cr.ID
	}
	return ids
}

// ValidateAgainst compares each change's recorded version with the live
// registrations and returns the IDs whose versions no longer match.
// A change for a registration absent from storage is valid only if its old
// data recorded no version.
func (c CartData) ValidateAgainst(registrations []*Registration) []uuid.UUID {
	versions := make(map[uuid.UUID]int, len(registrations))
	for _, r := range registrations {
		versions[r.ID] = r.Version
	}

	var conflicting []uuid.UUID
	for _, cr := range c.Registrations {
		if cr.OldVersion() != versions[cr.ID] {
			conflicting = append(conflicting, cr.ID)
		}
	}
	return conflicting
}

// ValidateChange checks whether a single change can be applied to the live
// registration: the versions must match and a change back into the pending
// state is only allowed if the registration is still pending.
func (r *Registration) ValidateChange(cr CartRegistration) bool {
	if cr.OldVersion() != r.Version {
		return false
	}
	if cr.NewState() == RegistrationStatePending && r.State != RegistrationStatePending {
		return false
	}
	return true
}
