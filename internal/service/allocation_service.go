package service

import (
	"context"
	"errors"
	"time"

	"medvik/internal/config"
	"medvik/internal/database"
	"medvik/internal/domain"
	"medvik/internal/events"
	"medvik/internal/metrics"
	"medvik/internal/models"

	"github.com/rs/zerolog"
)

// AllocationService coordinates bookings against resource pools. Every
// capacity mutation goes through the repository transactionally; the
// service layers policy (window limits, auto-decline, sweeps) on top.
type AllocationService struct {
	repo         domain.Repository
	eventBus     domain.EventPublisher
	reportWorker domain.ReportWorker
	ledger       domain.LedgerService
	cfg          config.AllocationConfig
	logger       *zerolog.Logger

	declineWhenFull     bool
	shrinkPullsReserved bool
}

func NewAllocationService(repo domain.Repository, eventBus domain.EventPublisher, reportWorker domain.ReportWorker, ledger domain.LedgerService, cfg config.AllocationConfig, logger *zerolog.Logger) *AllocationService {
	if cfg.MaxBookingDays <= 0 {
		cfg.MaxBookingDays = models.DefaultMaxBookingDays
	}
	return &AllocationService{
		repo:         repo,
		eventBus:     eventBus,
		reportWorker: reportWorker,
		ledger:       ledger,
		cfg:          cfg,
		logger:       logger,

		declineWhenFull:     cfg.DeclineWhenFull == nil || *cfg.DeclineWhenFull,
		shrinkPullsReserved: cfg.ShrinkPullsReserved == nil || *cfg.ShrinkPullsReserved,
	}
}

func (s *AllocationService) RegisterPool(ctx context.Context, hospitalID int64, resourceType string, total int64, actor models.Actor) (*models.ResourcePool, error) {
	pool := &models.ResourcePool{
		HospitalID:   hospitalID,
		ResourceType: resourceType,
		Total:        total,
	}
	if err := s.repo.CreatePool(ctx, pool, actor); err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *AllocationService) AdjustCapacity(ctx context.Context, hospitalID int64, resourceType string, delta int64, actor models.Actor, reason string) ([]int64, error) {
	flagged, err := s.repo.AdjustTotal(ctx, hospitalID, resourceType, delta, actor, reason, s.shrinkPullsReserved)
	if err != nil {
		if errors.Is(err, database.ErrCapacityShortfall) {
			s.recordShortfall(ctx, hospitalID, resourceType, delta)
		}
		return nil, err
	}

	payload := events.CapacityEventPayload{
		HospitalID:   hospitalID,
		ResourceType: resourceType,
		Delta:        delta,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Reason:       reason,
	}
	if pubErr := s.eventBus.PublishJSON(events.EventCapacityAdjusted, payload); pubErr != nil {
		s.logger.Error().Err(pubErr).Int64("hospital_id", hospitalID).Msg("publish capacity event error")
	}

	for _, bookingID := range flagged {
		s.logger.Warn().
			Int64("booking_id", bookingID).
			Int64("hospital_id", hospitalID).
			Str("resource_type", resourceType).
			Msg("booking flagged by capacity shrink")
	}

	return flagged, nil
}

// recordShortfall leaves an audit trail when a shrink cannot be satisfied
// from free capacity. The pool is left untouched.
func (s *AllocationService) recordShortfall(ctx context.Context, hospitalID int64, resourceType string, delta int64) {
	pool, err := s.repo.GetPool(ctx, hospitalID, resourceType)
	if err != nil {
		s.logger.Error().Err(err).Int64("hospital_id", hospitalID).Msg("shortfall pool lookup error")
		return
	}

	record := &models.ReconciliationRecord{
		RunID:            "capacity-adjust",
		Scope:            models.ScopeResource,
		Subject:          poolSubject(hospitalID, resourceType),
		ExpectedValue:    pool.Total + delta,
		ActualValue:      pool.Total,
		Discrepancy:      -delta - pool.Available,
		ResolutionAction: models.ResolutionFlagged,
	}
	if err := s.repo.InsertReconciliationRecord(ctx, record); err != nil {
		s.logger.Error().Err(err).Int64("hospital_id", hospitalID).Msg("shortfall record error")
	}
	metrics.IncDiscrepancy(models.ScopeResource)
}

// ValidateBookingWindow checks the requested interval against the horizon.
func (s *AllocationService) ValidateBookingWindow(start, end time.Time) error {
	if !end.After(start) {
		return database.ErrInvalidWindow
	}
	// Окно не может начинаться в прошлом
	if start.Before(time.Now().Add(-time.Minute)) {
		return database.ErrPastWindow
	}
	maxStart := time.Now().AddDate(0, 0, s.cfg.MaxBookingDays)
	if start.After(maxStart) {
		return database.ErrWindowTooFar
	}
	return nil
}

func (s *AllocationService) RequestBooking(ctx context.Context, booking *models.Booking) error {
	if err := s.ValidateBookingWindow(booking.WindowStart, booking.WindowEnd); err != nil {
		return err
	}
	if booking.PaymentAmount <= 0 {
		return errors.New("payment amount must be positive")
	}
	if booking.Urgency == "" {
		booking.Urgency = models.UrgencyRoutine
	}

	// Пул должен существовать до приёма заявки
	if _, err := s.repo.GetPool(ctx, booking.HospitalID, booking.ResourceType); err != nil {
		return err
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return err
	}

	metrics.IncTransition(models.StatusPending)
	s.publishBookingEvent(events.EventBookingRequested, booking, models.Actor{ID: booking.UserID, Role: models.RoleUser}, "")
	s.enqueueReport(ctx, booking)

	return nil
}

// Approve reserves capacity and moves the booking to approved in one
// repository transaction, then initiates payment. When the pool has no
// capacity the booking is auto-declined (policy-controlled).
func (s *AllocationService) Approve(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	booking, err := s.repo.ApproveBooking(ctx, bookingID, actor)
	if err != nil {
		if errors.Is(err, database.ErrInsufficientCapacity) && s.declineWhenFull {
			if declErr := s.declineOnCapacity(ctx, bookingID); declErr != nil {
				s.logger.Error().Err(declErr).Int64("booking_id", bookingID).Msg("auto-decline error")
			}
		}
		return nil, err
	}

	metrics.IncTransition(models.StatusApproved)
	s.publishBookingEvent(events.EventBookingApproved, booking, actor, "")
	s.enqueueReport(ctx, booking)

	if s.ledger != nil {
		if _, payErr := s.ledger.Initiate(ctx, booking.ID); payErr != nil {
			s.logger.Error().Err(payErr).Int64("booking_id", booking.ID).Msg("payment initiation error")
		}
	}

	return booking, nil
}

func (s *AllocationService) declineOnCapacity(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := s.repo.TransitionBooking(ctx, booking.ID, booking.Version, models.StatusDeclined, models.SystemActor, models.ReasonResourceUnavailable); err != nil {
		return err
	}
	booking.Status = models.StatusDeclined
	metrics.IncTransition(models.StatusDeclined)
	s.publishBookingEvent(events.EventBookingDeclined, booking, models.SystemActor, models.ReasonResourceUnavailable)
	s.enqueueReport(ctx, booking)
	return nil
}

func (s *AllocationService) Decline(ctx context.Context, bookingID, version int64, actor models.Actor, reason string) error {
	if err := s.repo.TransitionBooking(ctx, bookingID, version, models.StatusDeclined, actor, reason); err != nil {
		return err
	}

	metrics.IncTransition(models.StatusDeclined)
	if booking, err := s.repo.GetBooking(ctx, bookingID); err == nil {
		s.publishBookingEvent(events.EventBookingDeclined, booking, actor, reason)
		s.enqueueReport(ctx, booking)
	}

	return nil
}

// Cancel releases held or committed capacity and refunds a completed
// payment in full.
func (s *AllocationService) Cancel(ctx context.Context, bookingID, version int64, actor models.Actor, reason string) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if err := s.repo.TransitionBooking(ctx, bookingID, version, models.StatusCancelled, actor, reason); err != nil {
		return err
	}

	if booking.ReservationToken != "" {
		if relErr := s.releaseByToken(ctx, booking.ReservationToken, actor, reason); relErr != nil {
			s.logger.Error().Err(relErr).Int64("booking_id", bookingID).Msg("release on cancel error")
		}
	}

	if booking.PaymentStatus == models.PaymentStatusPaid && s.ledger != nil {
		txn, txErr := s.repo.GetTransactionByBooking(ctx, bookingID)
		if txErr != nil {
			s.logger.Error().Err(txErr).Int64("booking_id", bookingID).Msg("lookup transaction on cancel error")
		} else if _, refErr := s.ledger.Refund(ctx, txn.ID, txn.Amount); refErr != nil {
			s.logger.Error().Err(refErr).Int64("transaction_id", txn.ID).Msg("refund on cancel error")
		}
	}

	metrics.IncTransition(models.StatusCancelled)
	booking.Status = models.StatusCancelled
	s.publishBookingEvent(events.EventBookingCancelled, booking, actor, reason)
	s.enqueueReport(ctx, booking)

	return nil
}

func (s *AllocationService) Complete(ctx context.Context, bookingID, version int64, actor models.Actor) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if err := s.repo.TransitionBooking(ctx, bookingID, version, models.StatusCompleted, actor, ""); err != nil {
		return err
	}

	if booking.ReservationToken != "" {
		if relErr := s.releaseByToken(ctx, booking.ReservationToken, actor, ""); relErr != nil {
			s.logger.Error().Err(relErr).Int64("booking_id", bookingID).Msg("release on complete error")
		}
	}

	metrics.IncTransition(models.StatusCompleted)
	booking.Status = models.StatusCompleted
	s.publishBookingEvent(events.EventBookingCompleted, booking, actor, "")
	s.enqueueReport(ctx, booking)

	return nil
}

// releaseByToken returns capacity to the pool from whatever state the
// reservation is currently in. Released reservations are left alone.
func (s *AllocationService) releaseByToken(ctx context.Context, token string, actor models.Actor, reason string) error {
	reservation, err := s.repo.GetReservation(ctx, token)
	if err != nil {
		return err
	}
	switch reservation.State {
	case models.ReservationHeld:
		return s.repo.ReleaseReservation(ctx, token, actor, reason)
	case models.ReservationCommitted:
		return s.repo.ReleaseOccupancy(ctx, token, actor, reason)
	}
	return nil
}

// StartDue commits occupancy for approved bookings whose window has
// started. Run periodically by the sweep ticker.
func (s *AllocationService) StartDue(ctx context.Context, now time.Time) (int, error) {
	bookings, err := s.repo.GetApprovedDueStart(ctx, now)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, booking := range bookings {
		if booking.ReservationToken == "" {
			continue
		}
		reservation, resErr := s.repo.GetReservation(ctx, booking.ReservationToken)
		if resErr != nil || reservation.State != models.ReservationHeld {
			continue
		}
		if err := s.repo.CommitOccupancy(ctx, booking.ReservationToken, models.SystemActor); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("commit occupancy error")
			continue
		}
		started++
	}

	return started, nil
}

// CompleteElapsed closes approved bookings whose window has ended.
func (s *AllocationService) CompleteElapsed(ctx context.Context, now time.Time) (int, error) {
	bookings, err := s.repo.GetApprovedDueComplete(ctx, now)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, booking := range bookings {
		if err := s.Complete(ctx, booking.ID, booking.Version, models.SystemActor); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("auto-complete error")
			continue
		}
		completed++
	}

	return completed, nil
}

func (s *AllocationService) GetAvailability(ctx context.Context, hospitalID int64, resourceType string) (*models.Availability, error) {
	pool, err := s.repo.GetPool(ctx, hospitalID, resourceType)
	if err != nil {
		return nil, err
	}
	return &models.Availability{
		HospitalID:   pool.HospitalID,
		ResourceType: pool.ResourceType,
		Total:        pool.Total,
		Available:    pool.Available,
		Occupied:     pool.Occupied,
		Reserved:     pool.Reserved,
	}, nil
}

func (s *AllocationService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *AllocationService) publishBookingEvent(eventType string, booking *models.Booking, actor models.Actor, reason string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    booking.ID,
		Reference:    booking.Reference,
		UserID:       booking.UserID,
		HospitalID:   booking.HospitalID,
		ResourceType: booking.ResourceType,
		Status:       booking.Status,
		Urgency:      booking.Urgency,
		WindowStart:  booking.WindowStart,
		Reason:       reason,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *AllocationService) enqueueReport(ctx context.Context, booking *models.Booking) {
	if s.reportWorker == nil {
		return
	}
	if err := s.reportWorker.EnqueueBooking(ctx, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("report enqueue error")
	}
}
