package service

import (
	"context"
	"time"

	"registration-service/internal/hook"
	"registration-service/internal/models"
	"registration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegistrationService reconciles cart changes against live registrations.
type RegistrationService struct {
	dispatcher *hook.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewRegistrationService creates a new registration service.
func NewRegistrationService(dispatcher *hook.Dispatcher) *RegistrationService {
	return &RegistrationService{
		dispatcher: dispatcher,
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// ValidateChanges compares the cart's recorded versions against the live
// registrations and returns the IDs of out-of-date changes. With lock set,
// the rows stay locked for the rest of the transaction.
func (s *RegistrationService) ValidateChanges(ctx context.Context, tx Tx, cart models.CartData, lock bool) ([]uuid.UUID, error) {
	ids := cart.RegistrationIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	regs, err := tx.GetRegistrations(ctx, ids, lock)
	if err != nil {
		return nil, err
	}
	return cart.ValidateAgainst(regs), nil
}

// appliedChange is one reconciled registration and the event it raised.
type appliedChange struct {
	reg    *models.Registration
	event  hook.Event
	insert bool
}

// ApplyChanges applies every change in the cart to the live registrations,
// all-or-nothing. Rows are locked up front and every change is re-validated
// under the lock; any stale change aborts with an InvalidChangeError.
// Registration numbers are assigned last under a short-lived event-stats
// lock, and hooks are scheduled on the transaction after all writes so
// their bodies carry the final data.
func (s *RegistrationService) ApplyChanges(ctx context.Context, tx Tx, cart models.CartData) ([]*models.Registration, error) {
	ctx, span := util.StartSpan(ctx, "RegistrationService.ApplyChanges")
	defer span.End()

	now := s.now()

	existing := map[uuid.UUID]*models.Registration{}
	if ids := cart.RegistrationIDs(); len(ids) > 0 {
		regs, err := tx.GetRegistrations(ctx, ids, true)
		if err != nil {
			return nil, err
		}
		for _, r := range regs {
			existing[r.ID] = r
		}
	}

	var applied []appliedChange
	for _, cr := range cart.Registrations {
		if reg, ok := existing[cr.ID]; ok {
			a, err := s.applyExisting(reg, cr, now)
			if err != nil {
				return nil, err
			}
			applied = append(applied, a)
		} else {
			a, err := s.applyNew(cr, now)
			if err != nil {
				return nil, err
			}
			applied = append(applied, a)
		}
	}

	if err := s.assignNumbers(ctx, tx, cart.EventID, applied, now); err != nil {
		return nil, err
	}

	regs := make([]*models.Registration, len(applied))
	for i, a := range applied {
		regs[i] = a.reg
		var err error
		if a.insert {
			err = tx.InsertRegistration(ctx, a.reg)
		} else {
			err = tx.UpdateRegistration(ctx, a.reg)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, a := range applied {
		if a.event == "" {
			continue
		}
		if err := s.dispatcher.Schedule(ctx, tx, a.event, a.reg.Data()); err != nil {
			return nil, err
		}
	}

	return regs, nil
}

func (s *RegistrationService) applyExisting(reg *models.Registration, cr models.CartRegistration, now time.Time) (appliedChange, error) {
	if !reg.ValidateChange(cr) {
		return appliedChange{}, &models.InvalidChangeError{RegistrationID: cr.ID}
	}
	if err := reg.ApplyWritable(cr.NewData, now); err != nil {
		return appliedChange{}, err
	}

	event := hook.EventRegistrationUpdated
	switch cr.NewState() {
	case models.RegistrationStateCreated:
		changed, err := reg.Complete(now)
		if err != nil {
			return appliedChange{}, &models.InvalidChangeError{RegistrationID: cr.ID}
		}
		if changed {
			event = hook.EventRegistrationCreated
			util.RegistrationsCreatedTotal.Inc()
		}
	case models.RegistrationStateCanceled:
		if reg.Cancel(now) {
			event = hook.EventRegistrationCanceled
			util.RegistrationsCanceledTotal.Inc()
		}
	}
	return appliedChange{reg: reg, event: event}, nil
}

func (s *RegistrationService) applyNew(cr models.CartRegistration, now time.Time) (appliedChange, error) {
	// the cart claimed a prior version but the row is gone
	if cr.OldVersion() != 0 {
		return appliedChange{}, &models.InvalidChangeError{RegistrationID: cr.ID}
	}

	reg, err := cr.NewRegistration(now)
	if err != nil {
		return appliedChange{}, err
	}

	var event hook.Event
	switch cr.NewState() {
	case models.RegistrationStateCreated:
		if _, err := reg.Complete(now); err != nil {
			return appliedChange{}, err
		}
		event = hook.EventRegistrationCreated
		util.RegistrationsCreatedTotal.Inc()
	case models.RegistrationStateCanceled:
		reg.Cancel(now)
		event = hook.EventRegistrationCanceled
		util.RegistrationsCanceledTotal.Inc()
	}
	return appliedChange{reg: reg, event: event, insert: true}, nil
}

// assignNumbers gives every newly-created registration without a number the
// next one for the event. The event-stats row is locked only here, after
// all change validation, to keep the serialization window small.
func (s *RegistrationService) assignNumbers(ctx context.Context, tx Tx, eventID string, applied []appliedChange, now time.Time) error {
	var need []*models.Registration
	for _, a := range applied {
		if a.reg.State == models.RegistrationStateCreated && a.reg.Number == nil {
			need = append(need, a.reg)
		}
	}
	if len(need) == 0 {
		return nil
	}

	stats, err := tx.GetEventStats(ctx, eventID, true)
	if err != nil {
		return err
	}
	for _, reg := range need {
		n := reg.AssignNumber(stats, now)
		s.logger.Info("Assigned registration number",
			zap.String("registration_id", reg.ID.String()),
			zap.String("event_id", eventID),
			zap.Int("number", n))
	}
	return tx.UpdateEventStats(ctx, stats)
}
