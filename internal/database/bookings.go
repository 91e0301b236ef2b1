package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medvik/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, user_id, hospital_id, resource_type, patient_name, patient_note,
	                 urgency, window_start, window_end, status, payment_amount, payment_status,
					 reference, reservation_token, flagged, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	b := &models.Booking{}
	var patientNote, reference, token sql.NullString
	err := row.Scan(
		&b.ID, &b.UserID, &b.HospitalID, &b.ResourceType, &b.PatientName, &patientNote,
		&b.Urgency, &b.WindowStart, &b.WindowEnd, &b.Status, &b.PaymentAmount, &b.PaymentStatus,
		&reference, &token, &b.Flagged, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.PatientNote = patientNote.String
	b.Reference = reference.String
	b.ReservationToken = token.String
	return b, nil
}

// CreateBooking inserts a pending booking, derives its immutable reference
// from the assigned id and appends the initial history row, all in one
// transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `INSERT INTO bookings (
				user_id, hospital_id, resource_type, patient_name, patient_note,
				urgency, window_start, window_end, status, payment_amount, payment_status,
				created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, query,
		booking.UserID,
		booking.HospitalID,
		booking.ResourceType,
		booking.PatientName,
		booking.PatientNote,
		booking.Urgency,
		booking.WindowStart,
		booking.WindowEnd,
		models.StatusPending,
		booking.PaymentAmount,
		models.PaymentStatusUnpaid,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	reference := models.BookingReference(id, now)
	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET reference = ? WHERE id = ?`, reference, id); err != nil {
		return fmt.Errorf("failed to set booking reference: %w", err)
	}

	if err := appendHistoryTx(tx, id, "", models.StatusPending, models.Actor{ID: booking.UserID, Role: models.RoleUser}, "booking requested"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.Status = models.StatusPending
	booking.PaymentStatus = models.PaymentStatusUnpaid
	booking.Reference = reference
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by reference: %w", err)
	}
	return booking, nil
}

func (db *DB) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY created_at DESC`
	return db.queryBookings(ctx, query, userID)
}

func (db *DB) GetBookingsByStatus(ctx context.Context, status string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? ORDER BY created_at ASC`
	return db.queryBookings(ctx, query, status)
}

// GetApprovedDueStart returns approved bookings with a held reservation whose
// window has started.
func (db *DB) GetApprovedDueStart(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b
              WHERE b.status = ? AND b.window_start <= ?
                AND EXISTS (SELECT 1 FROM reservations r WHERE r.token = b.reservation_token AND r.state = ?)
              ORDER BY b.window_start ASC`
	return db.queryBookings(ctx, query, models.StatusApproved, now, models.ReservationHeld)
}

// GetApprovedDueComplete returns approved bookings whose window has elapsed.
func (db *DB) GetApprovedDueComplete(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? AND window_end <= ? ORDER BY window_end ASC`
	return db.queryBookings(ctx, query, models.StatusApproved, now)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// TransitionBooking applies a validated state-machine transition with an
// optimistic version check and appends a history row in the same transaction.
// Invalid transitions fail with zero side effects.
func (db *DB) TransitionBooking(ctx context.Context, id, version int64, toStatus string, actor models.Actor, reason string) error {
	if models.ReasonRequired(toStatus) && reason == "" {
		return ErrEmptyReason
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	booking, err := getBookingTx(ctx, tx, id)
	if err != nil {
		return err
	}

	if !models.CanTransition(booking.Status, toStatus) {
		return ErrInvalidTransition
	}
	if !models.TransitionAuthorized(actor, booking, toStatus) {
		return ErrNotAuthorized
	}

	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query, toStatus, time.Now(), id, version)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if err := appendHistoryTx(tx, id, booking.Status, toStatus, actor, reason); err != nil {
		return err
	}

	return tx.Commit()
}

func getBookingTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking in tx: %w", err)
	}
	return booking, nil
}

// ApproveBooking is the allocation decision: within one transaction the
// booking must still be pending, the pool decrement must succeed, and the
// approval plus its history and audit rows commit together. On capacity
// failure nothing is written and ErrInsufficientCapacity is returned so the
// caller can apply its decline policy.
func (db *DB) ApproveBooking(ctx context.Context, id int64, actor models.Actor) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	booking, err := getBookingTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.StatusPending {
		return nil, ErrInvalidTransition
	}
	if !models.TransitionAuthorized(actor, booking, models.StatusApproved) {
		return nil, ErrNotAuthorized
	}

	oldPool, err := reservePoolTx(ctx, tx, booking.HospitalID, booking.ResourceType, 1)
	if err != nil {
		return nil, err
	}

	res := &models.Reservation{
		Token:        uuid.NewString(),
		HospitalID:   booking.HospitalID,
		ResourceType: booking.ResourceType,
		BookingID:    booking.ID,
		Count:        1,
		State:        models.ReservationHeld,
	}
	if err := insertReservationTx(ctx, tx, res); err != nil {
		return nil, err
	}

	now := time.Now()
	query := `UPDATE bookings SET status = ?, reservation_token = ?, payment_status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query, models.StatusApproved, res.Token,
		models.PaymentStatusPending, now, booking.ID, booking.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to approve booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrConcurrentModification
	}

	if err := appendHistoryTx(tx, booking.ID, models.StatusPending, models.StatusApproved, actor, ""); err != nil {
		return nil, err
	}

	newPool, err := getPoolTx(ctx, tx, booking.HospitalID, booking.ResourceType)
	if err != nil {
		return nil, err
	}
	audit := &models.ResourceAuditLogEntry{
		HospitalID:   booking.HospitalID,
		ResourceType: booking.ResourceType,
		Action:       models.AuditActionReserve,
		OldValues:    poolValuesJSON(oldPool),
		NewValues:    poolValuesJSON(newPool),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Reason:       fmt.Sprintf("booking %d approved", booking.ID),
	}
	if err := writeAuditTx(tx, audit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	booking.Status = models.StatusApproved
	booking.ReservationToken = res.Token
	booking.PaymentStatus = models.PaymentStatusPending
	booking.UpdatedAt = now
	booking.Version++
	return booking, nil
}

// UpdateBookingPaymentStatus records the payment outcome on the booking row.
func (db *DB) UpdateBookingPaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	query := `UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, paymentStatus, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return nil
}
