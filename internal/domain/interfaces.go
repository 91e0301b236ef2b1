package domain

import (
	"context"
	"time"

	"medvik/internal/database"
	"medvik/internal/models"
)

type Repository interface {
	// resource ledger
	CreatePool(ctx context.Context, pool *models.ResourcePool, actor models.Actor) error
	GetPool(ctx context.Context, hospitalID int64, resourceType string) (*models.ResourcePool, error)
	ListPools(ctx context.Context) ([]*models.ResourcePool, error)
	Reserve(ctx context.Context, hospitalID int64, resourceType string, bookingID, count int64, actor models.Actor) (string, error)
	ReleaseReservation(ctx context.Context, token string, actor models.Actor, reason string) error
	CommitOccupancy(ctx context.Context, token string, actor models.Actor) error
	ReleaseOccupancy(ctx context.Context, token string, actor models.Actor, reason string) error
	AdjustTotal(ctx context.Context, hospitalID int64, resourceType string, delta int64, actor models.Actor, reason string, pullReserved bool) ([]int64, error)
	GetReservation(ctx context.Context, token string) (*models.Reservation, error)

	// bookings
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	GetBookingsByStatus(ctx context.Context, status string) ([]*models.Booking, error)
	GetApprovedDueStart(ctx context.Context, now time.Time) ([]*models.Booking, error)
	GetApprovedDueComplete(ctx context.Context, now time.Time) ([]*models.Booking, error)
	TransitionBooking(ctx context.Context, id, version int64, toStatus string, actor models.Actor, reason string) error
	ApproveBooking(ctx context.Context, id int64, actor models.Actor) (*models.Booking, error)
	GetBookingHistory(ctx context.Context, bookingID int64) ([]*models.BookingStatusHistory, error)

	// financial ledger
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	GetTransactionByBooking(ctx context.Context, bookingID int64) (*models.Transaction, error)
	ConfirmTransaction(ctx context.Context, id int64, gatewayReference string, platformAccountID int64) (*models.Transaction, error)
	FailTransaction(ctx context.Context, id int64, reason string) (*models.Transaction, error)
	RefundTransaction(ctx context.Context, id, amount, platformAccountID int64) (*models.Transaction, error)
	GetExpiredPendingTransactions(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error)
	GetBalance(ctx context.Context, accountID int64) (*models.AccountBalance, error)
	GetPostings(ctx context.Context, accountID int64) ([]*models.BalanceTransaction, error)

	// reconciliation
	GetPoolSnapshots(ctx context.Context) ([]*database.PoolSnapshot, error)
	GetAccountSums(ctx context.Context) ([]*database.AccountSum, error)
	CorrectPoolCounters(ctx context.Context, hospitalID int64, resourceType string, available, reserved, occupied int64, actor models.Actor, reason string) error
	InsertReconciliationRecord(ctx context.Context, record *models.ReconciliationRecord) error
	GetReconciliationRecords(ctx context.Context, limit int) ([]*models.ReconciliationRecord, error)
	GetReconciliationRecordsByRun(ctx context.Context, runID string) ([]*models.ReconciliationRecord, error)

	// audit
	GetAuditLog(ctx context.Context, hospitalID int64, resourceType string) ([]*models.ResourceAuditLogEntry, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// IdempotencyStore deduplicates gateway callbacks and rate limits callers.
type IdempotencyStore interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PaymentProvider is the outbound side of the gateway integration. The
// callback is the sole completion signal; Initiate never confirms.
type PaymentProvider interface {
	InitiatePayment(ctx context.Context, txn *models.Transaction) error
}

type ReportWorker interface {
	EnqueueBooking(ctx context.Context, booking *models.Booking) error
	EnqueueLedgerEntry(ctx context.Context, txn *models.Transaction) error
	EnqueueDiscrepancy(ctx context.Context, record *models.ReconciliationRecord) error
}

type SheetsWriter interface {
	UpsertBookingRow(ctx context.Context, booking *models.Booking) error
	AppendLedgerRow(ctx context.Context, txn *models.Transaction) error
	AppendDiscrepancyRow(ctx context.Context, record *models.ReconciliationRecord) error
}

type AllocationService interface {
	RegisterPool(ctx context.Context, hospitalID int64, resourceType string, total int64, actor models.Actor) (*models.ResourcePool, error)
	AdjustCapacity(ctx context.Context, hospitalID int64, resourceType string, delta int64, actor models.Actor, reason string) ([]int64, error)
	RequestBooking(ctx context.Context, booking *models.Booking) error
	Approve(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	Decline(ctx context.Context, bookingID, version int64, actor models.Actor, reason string) error
	Cancel(ctx context.Context, bookingID, version int64, actor models.Actor, reason string) error
	Complete(ctx context.Context, bookingID, version int64, actor models.Actor) error
	StartDue(ctx context.Context, now time.Time) (int, error)
	CompleteElapsed(ctx context.Context, now time.Time) (int, error)
	GetAvailability(ctx context.Context, hospitalID int64, resourceType string) (*models.Availability, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

type LedgerService interface {
	Initiate(ctx context.Context, bookingID int64) (*models.Transaction, error)
	Confirm(ctx context.Context, transactionID int64, gatewayReference string) (*models.Transaction, error)
	Fail(ctx context.Context, transactionID int64, reason string) error
	Refund(ctx context.Context, transactionID, amount int64) (*models.Transaction, error)
	OnPaymentCallback(ctx context.Context, transactionID int64, gatewayStatus, gatewayReference string) error
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

type ReconciliationService interface {
	RunOnce(ctx context.Context) ([]*models.ReconciliationRecord, error)
}

// StatementExporter builds xlsx workbooks for operators and returns the
// path of the generated file.
type StatementExporter interface {
	ExportLedgerStatement(ctx context.Context, accountID int64) (string, error)
	ExportReconciliationReport(ctx context.Context, limit int) (string, error)
}
