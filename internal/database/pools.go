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

// CreatePool registers a resource type for a hospital. The whole capacity
// starts as available.
func (db *DB) CreatePool(ctx context.Context, pool *models.ResourcePool, actor models.Actor) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `INSERT INTO resource_pools (hospital_id, resource_type, total, available, occupied, reserved, created_at, updated_at, version)
              VALUES (?, ?, ?, ?, 0, 0, ?, ?, 1)`
	result, err := tx.ExecContext(ctx, query, pool.HospitalID, pool.ResourceType, pool.Total, pool.Total, now, now)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	pool.ID = id
	pool.Available = pool.Total
	pool.Occupied = 0
	pool.Reserved = 0
	pool.CreatedAt = now
	pool.UpdatedAt = now
	pool.Version = 1

	audit := &models.ResourceAuditLogEntry{
		HospitalID:   pool.HospitalID,
		ResourceType: pool.ResourceType,
		Action:       models.AuditActionRegister,
		NewValues:    poolValuesJSON(pool),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
	}
	if err := writeAuditTx(tx, audit); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) GetPool(ctx context.Context, hospitalID int64, resourceType string) (*models.ResourcePool, error) {
	query := `SELECT id, hospital_id, resource_type, total, available, occupied, reserved, created_at, updated_at, version
              FROM resource_pools WHERE hospital_id = ? AND resource_type = ?`
	pool := &models.ResourcePool{}
	err := db.QueryRowContext(ctx, query, hospitalID, resourceType).Scan(
		&pool.ID, &pool.HospitalID, &pool.ResourceType, &pool.Total, &pool.Available,
		&pool.Occupied, &pool.Reserved, &pool.CreatedAt, &pool.UpdatedAt, &pool.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return pool, nil
}

func (db *DB) ListPools(ctx context.Context) ([]*models.ResourcePool, error) {
	query := `SELECT id, hospital_id, resource_type, total, available, occupied, reserved, created_at, updated_at, version
              FROM resource_pools ORDER BY hospital_id, resource_type`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []*models.ResourcePool
	for rows.Next() {
		p := &models.ResourcePool{}
		err := rows.Scan(&p.ID, &p.HospitalID, &p.ResourceType, &p.Total, &p.Available,
			&p.Occupied, &p.Reserved, &p.CreatedAt, &p.UpdatedAt, &p.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// reservePoolTx performs the atomic capacity decrement. The available>=count
// guard in the WHERE clause is what serializes concurrent approvals.
func reservePoolTx(ctx context.Context, tx *sql.Tx, hospitalID int64, resourceType string, count int64) (*models.ResourcePool, error) {
	old, err := getPoolTx(ctx, tx, hospitalID, resourceType)
	if err != nil {
		return nil, err
	}

	query := `UPDATE resource_pools
              SET available = available - ?, reserved = reserved + ?, version = version + 1, updated_at = ?
              WHERE hospital_id = ? AND resource_type = ? AND available >= ?`
	result, err := tx.ExecContext(ctx, query, count, count, time.Now(), hospitalID, resourceType, count)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve capacity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrInsufficientCapacity
	}
	return old, nil
}

func getPoolTx(ctx context.Context, tx *sql.Tx, hospitalID int64, resourceType string) (*models.ResourcePool, error) {
	query := `SELECT id, hospital_id, resource_type, total, available, occupied, reserved, created_at, updated_at, version
              FROM resource_pools WHERE hospital_id = ? AND resource_type = ?`
	pool := &models.ResourcePool{}
	err := tx.QueryRowContext(ctx, query, hospitalID, resourceType).Scan(
		&pool.ID, &pool.HospitalID, &pool.ResourceType, &pool.Total, &pool.Available,
		&pool.Occupied, &pool.Reserved, &pool.CreatedAt, &pool.UpdatedAt, &pool.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool in tx: %w", err)
	}
	return pool, nil
}

func getReservationTx(ctx context.Context, tx *sql.Tx, token string) (*models.Reservation, error) {
	query := `SELECT token, hospital_id, resource_type, booking_id, count, state, created_at, updated_at
              FROM reservations WHERE token = ?`
	res := &models.Reservation{}
	err := tx.QueryRowContext(ctx, query, token).Scan(
		&res.Token, &res.HospitalID, &res.ResourceType, &res.BookingID, &res.Count,
		&res.State, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

func insertReservationTx(ctx context.Context, tx *sql.Tx, res *models.Reservation) error {
	now := time.Now()
	query := `INSERT INTO reservations (token, hospital_id, resource_type, booking_id, count, state, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query, res.Token, res.HospitalID, res.ResourceType,
		res.BookingID, res.Count, res.State, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	res.CreatedAt = now
	res.UpdatedAt = now
	return nil
}

func updateReservationStateTx(ctx context.Context, tx *sql.Tx, token, fromState, toState string) error {
	query := `UPDATE reservations SET state = ?, updated_at = ? WHERE token = ? AND state = ?`
	result, err := tx.ExecContext(ctx, query, toState, time.Now(), token, fromState)
	if err != nil {
		return fmt.Errorf("failed to update reservation state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Reserve places a capacity hold and returns its token. Fails whole-or-nothing
// when available < count.
func (db *DB) Reserve(ctx context.Context, hospitalID int64, resourceType string, bookingID, count int64, actor models.Actor) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	old, err := reservePoolTx(ctx, tx, hospitalID, resourceType, count)
	if err != nil {
		return "", err
	}

	res := &models.Reservation{
		Token:        uuid.NewString(),
		HospitalID:   hospitalID,
		ResourceType: resourceType,
		BookingID:    bookingID,
		Count:        count,
		State:        models.ReservationHeld,
	}
	if err := insertReservationTx(ctx, tx, res); err != nil {
		return "", err
	}

	updated, err := getPoolTx(ctx, tx, hospitalID, resourceType)
	if err != nil {
		return "", err
	}
	audit := &models.ResourceAuditLogEntry{
		HospitalID:   hospitalID,
		ResourceType: resourceType,
		Action:       models.AuditActionReserve,
		OldValues:    poolValuesJSON(old),
		NewValues:    poolValuesJSON(updated),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
	}
	if err := writeAuditTx(tx, audit); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit reservation: %w", err)
	}
	return res.Token, nil
}

// ReleaseReservation reverses an uncommitted hold (decline/cancel path):
// reserved goes back to available.
func (db *DB) ReleaseReservation(ctx context.Context, token string, actor models.Actor, reason string) error {
	return db.moveReservation(ctx, token,
		models.ReservationHeld, models.ReservationReleased,
		`UPDATE resource_pools SET reserved = reserved - ?, available = available + ?, version = version + 1, updated_at = ?
         WHERE hospital_id = ? AND resource_type = ? AND reserved >= ?`,
		models.AuditActionRelease, actor, reason)
}

// CommitOccupancy moves a hold to occupancy at booking start.
func (db *DB) CommitOccupancy(ctx context.Context, token string, actor models.Actor) error {
	return db.moveReservation(ctx, token,
		models.ReservationHeld, models.ReservationCommitted,
		`UPDATE resource_pools SET reserved = reserved - ?, occupied = occupied + ?, version = version + 1, updated_at = ?
         WHERE hospital_id = ? AND resource_type = ? AND reserved >= ?`,
		models.AuditActionCommitOccupancy, actor, "")
}

// ReleaseOccupancy returns occupied capacity to available when a booking
// completes or is cancelled after start.
func (db *DB) ReleaseOccupancy(ctx context.Context, token string, actor models.Actor, reason string) error {
	return db.moveReservation(ctx, token,
		models.ReservationCommitted, models.ReservationReleased,
		`UPDATE resource_pools SET occupied = occupied - ?, available = available + ?, version = version + 1, updated_at = ?
         WHERE hospital_id = ? AND resource_type = ? AND occupied >= ?`,
		models.AuditActionReleaseOccupied, actor, reason)
}

func (db *DB) moveReservation(ctx context.Context, token, fromState, toState, poolQuery, action string, actor models.Actor, reason string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := getReservationTx(ctx, tx, token)
	if err != nil {
		return err
	}
	if res.State != fromState {
		return ErrInvalidTransition
	}

	old, err := getPoolTx(ctx, tx, res.HospitalID, res.ResourceType)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, poolQuery, res.Count, res.Count, time.Now(),
		res.HospitalID, res.ResourceType, res.Count)
	if err != nil {
		return fmt.Errorf("failed to move pool counters: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	if err := updateReservationStateTx(ctx, tx, token, fromState, toState); err != nil {
		return err
	}

	updated, err := getPoolTx(ctx, tx, res.HospitalID, res.ResourceType)
	if err != nil {
		return err
	}
	audit := &models.ResourceAuditLogEntry{
		HospitalID:   res.HospitalID,
		ResourceType: res.ResourceType,
		Action:       action,
		OldValues:    poolValuesJSON(old),
		NewValues:    poolValuesJSON(updated),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Reason:       reason,
	}
	if err := writeAuditTx(tx, audit); err != nil {
		return err
	}

	return tx.Commit()
}

// AdjustTotal applies an administrative capacity change. A shrink never
// drives available negative: the shortfall is pulled from reserved when
// pullReserved is set, and the affected pending bookings are flagged.
// When even reserved cannot cover the shortfall, ErrCapacityShortfall is
// returned and nothing changes.
func (db *DB) AdjustTotal(ctx context.Context, hospitalID int64, resourceType string, delta int64, actor models.Actor, reason string, pullReserved bool) ([]int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	old, err := getPoolTx(ctx, tx, hospitalID, resourceType)
	if err != nil {
		return nil, err
	}

	newTotal := old.Total + delta
	if newTotal < 0 {
		return nil, fmt.Errorf("total cannot go below zero: %w", ErrCapacityShortfall)
	}

	newAvailable := old.Available + delta
	newReserved := old.Reserved
	var flagged []int64

	if newAvailable < 0 {
		shortfall := -newAvailable
		if !pullReserved || old.Reserved < shortfall {
			return nil, ErrCapacityShortfall
		}
		newAvailable = 0
		newReserved = old.Reserved - shortfall

		flagged, err = flagHeldBookingsTx(ctx, tx, hospitalID, resourceType, shortfall)
		if err != nil {
			return nil, err
		}
	}

	query := `UPDATE resource_pools
              SET total = ?, available = ?, reserved = ?, version = version + 1, updated_at = ?
              WHERE hospital_id = ? AND resource_type = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query, newTotal, newAvailable, newReserved, time.Now(),
		hospitalID, resourceType, old.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust total: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrConcurrentModification
	}

	updated, err := getPoolTx(ctx, tx, hospitalID, resourceType)
	if err != nil {
		return nil, err
	}
	audit := &models.ResourceAuditLogEntry{
		HospitalID:   hospitalID,
		ResourceType: resourceType,
		Action:       models.AuditActionAdjustTotal,
		OldValues:    poolValuesJSON(old),
		NewValues:    poolValuesJSON(updated),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Reason:       reason,
	}
	if err := writeAuditTx(tx, audit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return flagged, nil
}

// flagHeldBookingsTx marks the most recent held reservations' bookings as
// flagged, up to the pulled count.
func flagHeldBookingsTx(ctx context.Context, tx *sql.Tx, hospitalID int64, resourceType string, count int64) ([]int64, error) {
	query := `SELECT booking_id FROM reservations
              WHERE hospital_id = ? AND resource_type = ? AND state = ?
              ORDER BY created_at DESC LIMIT ?`
	rows, err := tx.QueryContext(ctx, query, hospitalID, resourceType, models.ReservationHeld, count)
	if err != nil {
		return nil, fmt.Errorf("failed to select held reservations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan booking id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET flagged = 1, updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
			return nil, fmt.Errorf("failed to flag booking %d: %w", id, err)
		}
	}
	return ids, nil
}

// GetReservation returns a reservation by token.
func (db *DB) GetReservation(ctx context.Context, token string) (*models.Reservation, error) {
	query := `SELECT token, hospital_id, resource_type, booking_id, count, state, created_at, updated_at
              FROM reservations WHERE token = ?`
	res := &models.Reservation{}
	err := db.QueryRowContext(ctx, query, token).Scan(
		&res.Token, &res.HospitalID, &res.ResourceType, &res.BookingID, &res.Count,
		&res.State, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}
