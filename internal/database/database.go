package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"medvik/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite allows one writer at a time; critical transactions rely on it
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS resource_pools (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hospital_id INTEGER NOT NULL,
            resource_type TEXT NOT NULL,
            total INTEGER NOT NULL DEFAULT 0,
            available INTEGER NOT NULL DEFAULT 0,
            occupied INTEGER NOT NULL DEFAULT 0,
            reserved INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1,
            UNIQUE(hospital_id, resource_type)
        )`,

		`CREATE TABLE IF NOT EXISTS reservations (
            token TEXT PRIMARY KEY,
            hospital_id INTEGER NOT NULL,
            resource_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            count INTEGER NOT NULL DEFAULT 1,
            state TEXT NOT NULL DEFAULT 'held',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            hospital_id INTEGER NOT NULL,
            resource_type TEXT NOT NULL,
            patient_name TEXT NOT NULL,
            patient_note TEXT,
            urgency TEXT NOT NULL DEFAULT 'routine',
            window_start DATETIME NOT NULL,
            window_end DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            payment_amount INTEGER NOT NULL DEFAULT 0,
            payment_status TEXT NOT NULL DEFAULT 'unpaid',
            reference TEXT UNIQUE,
            reservation_token TEXT,
            flagged BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS booking_status_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            from_status TEXT NOT NULL,
            to_status TEXT NOT NULL,
            actor_id INTEGER NOT NULL,
            actor_role TEXT NOT NULL,
            reason TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS account_balances (
            account_id INTEGER PRIMARY KEY,
            balance INTEGER NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT 'USD',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS balance_transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            account_id INTEGER NOT NULL,
            related_transaction_id INTEGER,
            type TEXT NOT NULL,
            amount INTEGER NOT NULL,
            balance_before INTEGER NOT NULL,
            balance_after INTEGER NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            user_id INTEGER NOT NULL,
            hospital_id INTEGER NOT NULL,
            amount INTEGER NOT NULL,
            platform_fee INTEGER NOT NULL,
            hospital_share INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            gateway_reference TEXT,
            failure_reason TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS resource_audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            hospital_id INTEGER NOT NULL,
            resource_type TEXT NOT NULL,
            action TEXT NOT NULL,
            old_values TEXT,
            new_values TEXT,
            actor_id INTEGER NOT NULL,
            actor_role TEXT NOT NULL,
            reason TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS reconciliation_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            scope TEXT NOT NULL,
            subject TEXT NOT NULL,
            expected_value INTEGER NOT NULL,
            actual_value INTEGER NOT NULL,
            discrepancy INTEGER NOT NULL,
            resolution_action TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS report_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            subject_id INTEGER NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_pools_key ON resource_pools(hospital_id, resource_type)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_booking ON reservations(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_state ON reservations(state)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_pool ON bookings(hospital_id, resource_type)`,
		`CREATE INDEX IF NOT EXISTS idx_history_booking ON booking_status_history(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_postings_account ON balance_transactions(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_booking ON transactions(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_pool ON resource_audit_log(hospital_id, resource_type)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_run ON reconciliation_records(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_report_queue_status ON report_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// writeAuditTx appends a resource audit row inside the caller's transaction
// so the audit and the mutation commit or roll back together.
func writeAuditTx(tx *sql.Tx, entry *models.ResourceAuditLogEntry) error {
	query := `INSERT INTO resource_audit_log (
				hospital_id, resource_type, action, old_values, new_values,
				actor_id, actor_role, reason, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.Exec(query,
		entry.HospitalID,
		entry.ResourceType,
		entry.Action,
		entry.OldValues,
		entry.NewValues,
		entry.ActorID,
		entry.ActorRole,
		entry.Reason,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func poolValuesJSON(p *models.ResourcePool) string {
	raw, _ := json.Marshal(map[string]int64{
		"total":     p.Total,
		"available": p.Available,
		"occupied":  p.Occupied,
		"reserved":  p.Reserved,
	})
	return string(raw)
}

// appendHistoryTx appends a booking status history row inside the caller's
// transaction.
func appendHistoryTx(tx *sql.Tx, bookingID int64, fromStatus, toStatus string, actor models.Actor, reason string) error {
	query := `INSERT INTO booking_status_history (booking_id, from_status, to_status, actor_id, actor_role, reason, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.Exec(query, bookingID, fromStatus, toStatus, actor.ID, actor.Role, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// GetAuditLog returns audit entries for a pool, oldest first.
func (db *DB) GetAuditLog(ctx context.Context, hospitalID int64, resourceType string) ([]*models.ResourceAuditLogEntry, error) {
	query := `SELECT id, hospital_id, resource_type, action, old_values, new_values,
	                 actor_id, actor_role, reason, created_at
              FROM resource_audit_log WHERE hospital_id = ? AND resource_type = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, hospitalID, resourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.ResourceAuditLogEntry
	for rows.Next() {
		e := &models.ResourceAuditLogEntry{}
		var oldVals, newVals, reason sql.NullString
		err := rows.Scan(&e.ID, &e.HospitalID, &e.ResourceType, &e.Action, &oldVals, &newVals,
			&e.ActorID, &e.ActorRole, &reason, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.OldValues = oldVals.String
		e.NewValues = newVals.String
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBookingHistory returns status transitions for a booking, oldest first.
func (db *DB) GetBookingHistory(ctx context.Context, bookingID int64) ([]*models.BookingStatusHistory, error) {
	query := `SELECT id, booking_id, from_status, to_status, actor_id, actor_role, reason, created_at
              FROM booking_status_history WHERE booking_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	defer rows.Close()

	var history []*models.BookingStatusHistory
	for rows.Next() {
		h := &models.BookingStatusHistory{}
		var reason sql.NullString
		err := rows.Scan(&h.ID, &h.BookingID, &h.FromStatus, &h.ToStatus, &h.ActorID, &h.ActorRole, &reason, &h.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Reason = reason.String
		history = append(history, h)
	}
	return history, rows.Err()
}
