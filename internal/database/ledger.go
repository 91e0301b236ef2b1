package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medvik/internal/models"
)

// CreateTransaction opens a pending payment transaction. The split is fixed
// here and never recomputed.
func (db *DB) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.PlatformFee+txn.HospitalShare != txn.Amount {
		return fmt.Errorf("fee split does not sum to amount: %d + %d != %d",
			txn.PlatformFee, txn.HospitalShare, txn.Amount)
	}

	now := time.Now()
	query := `INSERT INTO transactions (booking_id, user_id, hospital_id, amount, platform_fee, hospital_share, status, created_at, updated_at, version)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	result, err := db.ExecContext(ctx, query,
		txn.BookingID, txn.UserID, txn.HospitalID, txn.Amount,
		txn.PlatformFee, txn.HospitalShare, models.TxStatusPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	txn.ID = id
	txn.Status = models.TxStatusPending
	txn.CreatedAt = now
	txn.UpdatedAt = now
	txn.Version = 1
	return nil
}

const transactionColumns = `id, booking_id, user_id, hospital_id, amount, platform_fee, hospital_share,
	                 status, gateway_reference, failure_reason, created_at, updated_at, version`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	var gatewayRef, failureReason sql.NullString
	err := row.Scan(
		&t.ID, &t.BookingID, &t.UserID, &t.HospitalID, &t.Amount, &t.PlatformFee, &t.HospitalShare,
		&t.Status, &gatewayRef, &failureReason, &t.CreatedAt, &t.UpdatedAt, &t.Version,
	)
	if err != nil {
		return nil, err
	}
	t.GatewayReference = gatewayRef.String
	t.FailureReason = failureReason.String
	return t, nil
}

func (db *DB) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	txn, err := scanTransaction(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (db *DB) GetTransactionByBooking(ctx context.Context, bookingID int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE booking_id = ? ORDER BY id DESC LIMIT 1`
	txn, err := scanTransaction(db.QueryRowContext(ctx, query, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by booking: %w", err)
	}
	return txn, nil
}

// getOrCreateBalanceTx reads an account row inside the transaction, creating
// it lazily on first posting.
func getOrCreateBalanceTx(ctx context.Context, tx *sql.Tx, accountID int64) (*models.AccountBalance, error) {
	now := time.Now()
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO account_balances (account_id, balance, created_at, updated_at, version) VALUES (?, 0, ?, ?, 1)`,
		accountID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	b := &models.AccountBalance{}
	err = tx.QueryRowContext(ctx,
		`SELECT account_id, balance, currency, created_at, updated_at, version FROM account_balances WHERE account_id = ?`,
		accountID).Scan(&b.AccountID, &b.Balance, &b.Currency, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance row: %w", err)
	}
	return b, nil
}

// postBalanceTx applies one signed posting: update the balance with an
// optimistic version check and append the immutable posting row carrying
// before/after values.
func postBalanceTx(ctx context.Context, tx *sql.Tx, accountID, relatedTxID int64, postingType string, amount int64) error {
	balance, err := getOrCreateBalanceTx(ctx, tx, accountID)
	if err != nil {
		return err
	}

	before := balance.Balance
	after := before + amount

	result, err := tx.ExecContext(ctx,
		`UPDATE account_balances SET balance = ?, version = version + 1, updated_at = ? WHERE account_id = ? AND version = ?`,
		after, time.Now(), accountID, balance.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO balance_transactions (account_id, related_transaction_id, type, amount, balance_before, balance_after, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		accountID, relatedTxID, postingType, amount, before, after, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append posting: %w", err)
	}
	return nil
}

// ConfirmTransaction posts the payment: exactly two credit postings (platform
// fee and hospital share) plus the status change, all in one transaction.
// A duplicate confirm of a completed transaction returns ErrAlreadyProcessed
// without touching the ledger.
func (db *DB) ConfirmTransaction(ctx context.Context, id int64, gatewayReference string, platformAccountID int64) (*models.Transaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txn, err := getTransactionTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case models.TxStatusCompleted:
		return txn, ErrAlreadyProcessed
	case models.TxStatusPending, models.TxStatusProcessing:
		// confirmable
	default:
		return nil, ErrInvalidTransition
	}

	if err := postBalanceTx(ctx, tx, platformAccountID, txn.ID, models.PostingTypeFee, txn.PlatformFee); err != nil {
		return nil, err
	}
	if err := postBalanceTx(ctx, tx, txn.HospitalID, txn.ID, models.PostingTypeCredit, txn.HospitalShare); err != nil {
		return nil, err
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, gateway_reference = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		models.TxStatusCompleted, gatewayReference, now, txn.ID, txn.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to complete transaction: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrConcurrentModification
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
		models.PaymentStatusPaid, now, txn.BookingID); err != nil {
		return nil, fmt.Errorf("failed to mark booking paid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	txn.Status = models.TxStatusCompleted
	txn.GatewayReference = gatewayReference
	txn.UpdatedAt = now
	txn.Version++
	return txn, nil
}

func getTransactionTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	txn, err := scanTransaction(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction in tx: %w", err)
	}
	return txn, nil
}

// FailTransaction marks a pending/processing transaction as failed. Completed
// and refunded transactions cannot fail.
func (db *DB) FailTransaction(ctx context.Context, id int64, reason string) (*models.Transaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txn, err := getTransactionTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TxStatusPending && txn.Status != models.TxStatusProcessing {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, failure_reason = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		models.TxStatusFailed, reason, now, txn.ID, txn.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to fail transaction: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrConcurrentModification
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
		models.PaymentStatusFailed, now, txn.BookingID); err != nil {
		return nil, fmt.Errorf("failed to mark booking payment failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit failure: %w", err)
	}

	txn.Status = models.TxStatusFailed
	txn.FailureReason = reason
	txn.UpdatedAt = now
	txn.Version++
	return txn, nil
}

// RefundTransaction posts compensating rows against a completed transaction.
// Originals are never mutated; a full refund also flips the statuses.
func (db *DB) RefundTransaction(ctx context.Context, id, amount, platformAccountID int64) (*models.Transaction, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txn, err := getTransactionTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TxStatusCompleted {
		return nil, ErrInvalidTransition
	}
	if amount <= 0 || amount > txn.Amount {
		return nil, fmt.Errorf("refund amount %d out of range for transaction %d", amount, txn.ID)
	}

	// Split the refund in the original proportion; the hospital side takes
	// the rounding remainder, mirroring the creation split.
	refundPlatform := amount * txn.PlatformFee / txn.Amount
	refundHospital := amount - refundPlatform

	if err := postBalanceTx(ctx, tx, platformAccountID, txn.ID, models.PostingTypeRefund, -refundPlatform); err != nil {
		return nil, err
	}
	if err := postBalanceTx(ctx, tx, txn.HospitalID, txn.ID, models.PostingTypeRefund, -refundHospital); err != nil {
		return nil, err
	}

	now := time.Now()
	if amount == txn.Amount {
		result, err := tx.ExecContext(ctx,
			`UPDATE transactions SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
			models.TxStatusRefunded, now, txn.ID, txn.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to mark transaction refunded: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return nil, ErrConcurrentModification
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
			models.PaymentStatusRefunded, now, txn.BookingID); err != nil {
			return nil, fmt.Errorf("failed to mark booking refunded: %w", err)
		}
		txn.Status = models.TxStatusRefunded
		txn.Version++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}

	txn.UpdatedAt = now
	return txn, nil
}

// GetExpiredPendingTransactions returns pending transactions older than the
// cutoff. The caller drives the failure/release sequence per transaction.
func (db *DB) GetExpiredPendingTransactions(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE status = ? AND created_at <= ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, models.TxStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (db *DB) GetBalance(ctx context.Context, accountID int64) (*models.AccountBalance, error) {
	b := &models.AccountBalance{}
	err := db.QueryRowContext(ctx,
		`SELECT account_id, balance, currency, created_at, updated_at, version FROM account_balances WHERE account_id = ?`,
		accountID).Scan(&b.AccountID, &b.Balance, &b.Currency, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// GetPostings returns the append-only postings for an account, oldest first.
func (db *DB) GetPostings(ctx context.Context, accountID int64) ([]*models.BalanceTransaction, error) {
	query := `SELECT id, account_id, related_transaction_id, type, amount, balance_before, balance_after, created_at
              FROM balance_transactions WHERE account_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get postings: %w", err)
	}
	defer rows.Close()

	var postings []*models.BalanceTransaction
	for rows.Next() {
		p := &models.BalanceTransaction{}
		var related sql.NullInt64
		err := rows.Scan(&p.ID, &p.AccountID, &related, &p.Type, &p.Amount, &p.BalanceBefore, &p.BalanceAfter, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		p.RelatedTransactionID = related.Int64
		postings = append(postings, p)
	}
	return postings, rows.Err()
}
