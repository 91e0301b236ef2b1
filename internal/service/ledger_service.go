package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medvik/internal/config"
	"medvik/internal/database"
	"medvik/internal/domain"
	"medvik/internal/events"
	"medvik/internal/metrics"
	"medvik/internal/models"

	"github.com/rs/zerolog"
)

// callbackDedupTTL keeps processed gateway callbacks deduplicated long
// enough to outlive any reasonable gateway retry schedule.
const callbackDedupTTL = 24 * time.Hour

// LedgerService owns the payment lifecycle: transaction creation with the
// fee split, confirmation postings, failures, refunds and the pending
// expiry sweep. The gateway callback is the only confirmation signal.
type LedgerService struct {
	repo     domain.Repository
	eventBus domain.EventPublisher
	provider domain.PaymentProvider
	idem     domain.IdempotencyStore
	worker   domain.ReportWorker
	cfg      config.LedgerConfig
	logger   *zerolog.Logger
}

func NewLedgerService(repo domain.Repository, eventBus domain.EventPublisher, provider domain.PaymentProvider, idem domain.IdempotencyStore, worker domain.ReportWorker, cfg config.LedgerConfig, logger *zerolog.Logger) *LedgerService {
	if cfg.PlatformFeePercent <= 0 {
		cfg.PlatformFeePercent = models.DefaultPlatformFeePercent
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = models.DefaultPaymentTimeoutSeconds * time.Second
	}
	return &LedgerService{
		repo:     repo,
		eventBus: eventBus,
		provider: provider,
		idem:     idem,
		worker:   worker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Initiate creates the pending transaction for an approved booking and
// hands it to the gateway. A provider error leaves the transaction
// pending; the expiry sweep picks it up if no callback ever arrives.
func (s *LedgerService) Initiate(ctx context.Context, bookingID int64) (*models.Transaction, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.StatusApproved {
		return nil, database.ErrInvalidTransition
	}

	if existing, err := s.repo.GetTransactionByBooking(ctx, bookingID); err == nil {
		return existing, database.ErrAlreadyProcessed
	}

	platformFee, hospitalShare := models.SplitAmount(booking.PaymentAmount, s.cfg.PlatformFeePercent)
	txn := &models.Transaction{
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		HospitalID:    booking.HospitalID,
		Amount:        booking.PaymentAmount,
		PlatformFee:   platformFee,
		HospitalShare: hospitalShare,
		Status:        models.TxStatusPending,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	s.publishPaymentEvent(events.EventPaymentInitiated, txn, "")

	if s.provider != nil {
		if err := s.provider.InitiatePayment(ctx, txn); err != nil {
			s.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("gateway initiate error")
		}
	}

	return txn, nil
}

// Confirm posts the fee split to the platform and hospital accounts and
// marks the booking paid. A concurrent version conflict is retried once.
func (s *LedgerService) Confirm(ctx context.Context, transactionID int64, gatewayReference string) (*models.Transaction, error) {
	txn, err := s.repo.ConfirmTransaction(ctx, transactionID, gatewayReference, s.cfg.PlatformAccountID)
	if errors.Is(err, database.ErrConcurrentModification) {
		txn, err = s.repo.ConfirmTransaction(ctx, transactionID, gatewayReference, s.cfg.PlatformAccountID)
		if errors.Is(err, database.ErrConcurrentModification) {
			return nil, database.ErrRetryExhausted
		}
	}
	if errors.Is(err, database.ErrAlreadyProcessed) {
		return txn, err
	}
	if err != nil {
		return nil, err
	}

	metrics.IncPosting(models.PostingTypeFee)
	metrics.IncPosting(models.PostingTypeCredit)
	s.publishPaymentEvent(events.EventPaymentCompleted, txn, "")
	s.enqueueLedgerReport(ctx, txn)

	return txn, nil
}

// Fail marks the transaction failed and cancels the booking, returning
// its reserved capacity.
func (s *LedgerService) Fail(ctx context.Context, transactionID int64, reason string) error {
	txn, err := s.repo.FailTransaction(ctx, transactionID, reason)
	if err != nil {
		return err
	}

	s.publishPaymentEvent(events.EventPaymentFailed, txn, reason)
	s.enqueueLedgerReport(ctx, txn)

	if err := s.cancelBookingForPayment(ctx, txn.BookingID, reason); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", txn.BookingID).Msg("cancel on payment failure error")
	}

	return nil
}

// Refund reverses a completed payment proportionally to the original
// split. Partial refunds keep the transaction completed.
func (s *LedgerService) Refund(ctx context.Context, transactionID, amount int64) (*models.Transaction, error) {
	txn, err := s.repo.RefundTransaction(ctx, transactionID, amount, s.cfg.PlatformAccountID)
	if err != nil {
		return nil, err
	}

	metrics.IncPosting(models.PostingTypeRefund)
	s.publishPaymentEvent(events.EventPaymentRefunded, txn, "")
	s.enqueueLedgerReport(ctx, txn)

	return txn, nil
}

// OnPaymentCallback handles the gateway webhook. Duplicate deliveries are
// detected via the idempotency store and acknowledged without effect.
func (s *LedgerService) OnPaymentCallback(ctx context.Context, transactionID int64, gatewayStatus, gatewayReference string) error {
	if s.idem != nil {
		rateKey := fmt.Sprintf("payment_cb_rate:%d", transactionID)
		allowed, rlErr := s.idem.CheckRateLimit(ctx, rateKey, models.RateLimitCalls, models.RateLimitWindowSeconds*time.Second)
		if rlErr != nil {
			s.logger.Error().Err(rlErr).Str("key", rateKey).Msg("rate limit check error")
		} else if !allowed {
			metrics.IncCallback("rate_limited")
			return database.ErrRateLimited
		}
	}

	key := fmt.Sprintf("payment_cb:%d:%s", transactionID, gatewayStatus)
	if s.idem != nil {
		first, err := s.idem.MarkProcessed(ctx, key, callbackDedupTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("idempotency check error")
		} else if !first {
			// метка могла остаться от сорвавшейся доставки, поэтому
			// дубликатом считаем только уже закрытую транзакцию
			txn, txErr := s.repo.GetTransaction(ctx, transactionID)
			if txErr == nil && txn.Status != models.TxStatusPending {
				metrics.IncCallback("duplicate")
				return nil
			}
		}
	}

	switch gatewayStatus {
	case "success", "completed":
		_, err := s.Confirm(ctx, transactionID, gatewayReference)
		if errors.Is(err, database.ErrAlreadyProcessed) {
			metrics.IncCallback("duplicate")
			return nil
		}
		if err != nil {
			metrics.IncCallback("error")
			return err
		}
		metrics.IncCallback("completed")
		return nil
	case "failed", "rejected":
		if err := s.Fail(ctx, transactionID, "gateway reported "+gatewayStatus); err != nil {
			metrics.IncCallback("error")
			return err
		}
		metrics.IncCallback("failed")
		return nil
	default:
		metrics.IncCallback("unknown")
		return fmt.Errorf("unknown gateway status %q", gatewayStatus)
	}
}

// ExpirePending fails transactions whose confirmation window has elapsed.
// Run periodically by the expiry ticker.
func (s *LedgerService) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.PaymentTimeout)
	expired, err := s.repo.GetExpiredPendingTransactions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, txn := range expired {
		if err := s.Fail(ctx, txn.ID, models.ReasonPaymentTimeout); err != nil {
			s.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("expire pending error")
			continue
		}
		failed++
	}

	return failed, nil
}

// cancelBookingForPayment cancels the booking tied to a failed payment
// and returns its held or committed capacity to the pool.
func (s *LedgerService) cancelBookingForPayment(ctx context.Context, bookingID int64, reason string) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(booking.Status) {
		return nil
	}

	if err := s.repo.TransitionBooking(ctx, booking.ID, booking.Version, models.StatusCancelled, models.SystemActor, reason); err != nil {
		return err
	}
	metrics.IncTransition(models.StatusCancelled)

	if booking.ReservationToken != "" {
		reservation, resErr := s.repo.GetReservation(ctx, booking.ReservationToken)
		if resErr != nil {
			return resErr
		}
		switch reservation.State {
		case models.ReservationHeld:
			return s.repo.ReleaseReservation(ctx, booking.ReservationToken, models.SystemActor, reason)
		case models.ReservationCommitted:
			return s.repo.ReleaseOccupancy(ctx, booking.ReservationToken, models.SystemActor, reason)
		}
	}

	return nil
}

func (s *LedgerService) publishPaymentEvent(eventType string, txn *models.Transaction, reason string) {
	if s.eventBus == nil {
		return
	}

	payload := events.PaymentEventPayload{
		TransactionID:    txn.ID,
		BookingID:        txn.BookingID,
		UserID:           txn.UserID,
		HospitalID:       txn.HospitalID,
		Amount:           txn.Amount,
		PlatformFee:      txn.PlatformFee,
		HospitalShare:    txn.HospitalShare,
		Status:           txn.Status,
		GatewayReference: txn.GatewayReference,
		Reason:           reason,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("transaction_id", txn.ID).Msg("publish event error")
	}
}

func (s *LedgerService) enqueueLedgerReport(ctx context.Context, txn *models.Transaction) {
	if s.worker == nil {
		return
	}
	if err := s.worker.EnqueueLedgerEntry(ctx, txn); err != nil {
		s.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("report enqueue error")
	}
}
