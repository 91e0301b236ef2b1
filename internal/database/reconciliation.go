package database

import (
	"context"
	"fmt"
	"time"

	"medvik/internal/models"
)

// PoolSnapshot pairs the live pool counters with the usage re-derived from
// the reservations log.
type PoolSnapshot struct {
	Pool           *models.ResourcePool
	HeldCount      int64
	CommittedCount int64
}

// GetPoolSnapshots re-derives expected reserved/occupied counts per pool
// from reservation states alongside the live counters.
func (db *DB) GetPoolSnapshots(ctx context.Context) ([]*PoolSnapshot, error) {
	pools, err := db.ListPools(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT hospital_id, resource_type,
	                 SUM(CASE WHEN state = ? THEN count ELSE 0 END),
	                 SUM(CASE WHEN state = ? THEN count ELSE 0 END)
              FROM reservations GROUP BY hospital_id, resource_type`
	rows, err := db.QueryContext(ctx, query, models.ReservationHeld, models.ReservationCommitted)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reservations: %w", err)
	}
	defer rows.Close()

	type usage struct{ held, committed int64 }
	usageByKey := make(map[string]usage)
	for rows.Next() {
		var hospitalID int64
		var resourceType string
		var u usage
		if err := rows.Scan(&hospitalID, &resourceType, &u.held, &u.committed); err != nil {
			return nil, fmt.Errorf("failed to scan reservation aggregate: %w", err)
		}
		usageByKey[fmt.Sprintf("%d/%s", hospitalID, resourceType)] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snapshots := make([]*PoolSnapshot, 0, len(pools))
	for _, pool := range pools {
		u := usageByKey[fmt.Sprintf("%d/%s", pool.HospitalID, pool.ResourceType)]
		snapshots = append(snapshots, &PoolSnapshot{
			Pool:           pool,
			HeldCount:      u.held,
			CommittedCount: u.committed,
		})
	}
	return snapshots, nil
}

// AccountSum pairs a live balance with the sum re-derived from postings.
type AccountSum struct {
	AccountID  int64
	Balance    int64
	PostingSum int64
}

// GetAccountSums recomputes expected balances from the posting log.
func (db *DB) GetAccountSums(ctx context.Context) ([]*AccountSum, error) {
	query := `SELECT a.account_id, a.balance,
	                 IFNULL((SELECT SUM(bt.amount) FROM balance_transactions bt WHERE bt.account_id = a.account_id), 0)
              FROM account_balances a ORDER BY a.account_id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate postings: %w", err)
	}
	defer rows.Close()

	var sums []*AccountSum
	for rows.Next() {
		s := &AccountSum{}
		if err := rows.Scan(&s.AccountID, &s.Balance, &s.PostingSum); err != nil {
			return nil, fmt.Errorf("failed to scan account sum: %w", err)
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

// CorrectPoolCounters overwrites a drifted pool row with recomputed values
// and records the correction in the audit log, atomically.
func (db *DB) CorrectPoolCounters(ctx context.Context, hospitalID int64, resourceType string, available, reserved, occupied int64, actor models.Actor, reason string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	old, err := getPoolTx(ctx, tx, hospitalID, resourceType)
	if err != nil {
		return err
	}

	query := `UPDATE resource_pools SET available = ?, reserved = ?, occupied = ?, version = version + 1, updated_at = ?
              WHERE hospital_id = ? AND resource_type = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query, available, reserved, occupied, time.Now(),
		hospitalID, resourceType, old.Version)
	if err != nil {
		return fmt.Errorf("failed to correct pool counters: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	updated, err := getPoolTx(ctx, tx, hospitalID, resourceType)
	if err != nil {
		return err
	}
	audit := &models.ResourceAuditLogEntry{
		HospitalID:   hospitalID,
		ResourceType: resourceType,
		Action:       models.AuditActionCorrection,
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

// InsertReconciliationRecord persists one discrepancy (or summary) row.
func (db *DB) InsertReconciliationRecord(ctx context.Context, record *models.ReconciliationRecord) error {
	now := time.Now()
	query := `INSERT INTO reconciliation_records (run_id, scope, subject, expected_value, actual_value, discrepancy, resolution_action, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		record.RunID, record.Scope, record.Subject, record.ExpectedValue,
		record.ActualValue, record.Discrepancy, record.ResolutionAction, now)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	record.CreatedAt = now
	return nil
}

// GetReconciliationRecords returns the most recent records, newest first.
func (db *DB) GetReconciliationRecords(ctx context.Context, limit int) ([]*models.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, run_id, scope, subject, expected_value, actual_value, discrepancy, resolution_action, created_at
              FROM reconciliation_records ORDER BY id DESC LIMIT ?`
	return db.queryReconciliationRecords(ctx, query, limit)
}

// GetReconciliationRecordsByRun returns all records of one run, oldest first.
func (db *DB) GetReconciliationRecordsByRun(ctx context.Context, runID string) ([]*models.ReconciliationRecord, error) {
	query := `SELECT id, run_id, scope, subject, expected_value, actual_value, discrepancy, resolution_action, created_at
              FROM reconciliation_records WHERE run_id = ? ORDER BY id ASC`
	return db.queryReconciliationRecords(ctx, query, runID)
}

func (db *DB) queryReconciliationRecords(ctx context.Context, query string, args ...any) ([]*models.ReconciliationRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation records: %w", err)
	}
	defer rows.Close()

	var records []*models.ReconciliationRecord
	for rows.Next() {
		r := &models.ReconciliationRecord{}
		err := rows.Scan(&r.ID, &r.RunID, &r.Scope, &r.Subject, &r.ExpectedValue,
			&r.ActualValue, &r.Discrepancy, &r.ResolutionAction, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
