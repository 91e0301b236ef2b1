package service

import (
	"context"
	"time"

	"medvik/internal/database"
	"medvik/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreatePool(ctx context.Context, pool *models.ResourcePool, actor models.Actor) error {
	return m.Called(ctx, pool, actor).Error(0)
}
func (m *mockRepo) GetPool(ctx context.Context, hospitalID int64, resourceType string) (*models.ResourcePool, error) {
	args := m.Called(ctx, hospitalID, resourceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ResourcePool), args.Error(1)
}
func (m *mockRepo) ListPools(ctx context.Context) ([]*models.ResourcePool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ResourcePool), args.Error(1)
}
func (m *mockRepo) Reserve(ctx context.Context, hospitalID int64, resourceType string, bookingID, count int64, actor models.Actor) (string, error) {
	args := m.Called(ctx, hospitalID, resourceType, bookingID, count, actor)
	return args.String(0), args.Error(1)
}
func (m *mockRepo) ReleaseReservation(ctx context.Context, token string, actor models.Actor, reason string) error {
	return m.Called(ctx, token, actor, reason).Error(0)
}
func (m *mockRepo) CommitOccupancy(ctx context.Context, token string, actor models.Actor) error {
	return m.Called(ctx, token, actor).Error(0)
}
func (m *mockRepo) ReleaseOccupancy(ctx context.Context, token string, actor models.Actor, reason string) error {
	return m.Called(ctx, token, actor, reason).Error(0)
}
func (m *mockRepo) AdjustTotal(ctx context.Context, hospitalID int64, resourceType string, delta int64, actor models.Actor, reason string, pullReserved bool) ([]int64, error) {
	args := m.Called(ctx, hospitalID, resourceType, delta, actor, reason, pullReserved)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}
func (m *mockRepo) GetReservation(ctx context.Context, token string) (*models.Reservation, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}
func (m *mockRepo) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return m.Called(ctx, booking).Error(0)
}
func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingsByStatus(ctx context.Context, status string) ([]*models.Booking, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetApprovedDueStart(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetApprovedDueComplete(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) TransitionBooking(ctx context.Context, id, version int64, toStatus string, actor models.Actor, reason string) error {
	return m.Called(ctx, id, version, toStatus, actor, reason).Error(0)
}
func (m *mockRepo) ApproveBooking(ctx context.Context, id int64, actor models.Actor) (*models.Booking, error) {
	args := m.Called(ctx, id, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingHistory(ctx context.Context, bookingID int64) ([]*models.BookingStatusHistory, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BookingStatusHistory), args.Error(1)
}
func (m *mockRepo) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}
func (m *mockRepo) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockRepo) GetTransactionByBooking(ctx context.Context, bookingID int64) (*models.Transaction, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockRepo) ConfirmTransaction(ctx context.Context, id int64, gatewayReference string, platformAccountID int64) (*models.Transaction, error) {
	args := m.Called(ctx, id, gatewayReference, platformAccountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockRepo) FailTransaction(ctx context.Context, id int64, reason string) (*models.Transaction, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockRepo) RefundTransaction(ctx context.Context, id, amount, platformAccountID int64) (*models.Transaction, error) {
	args := m.Called(ctx, id, amount, platformAccountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockRepo) GetExpiredPendingTransactions(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}
func (m *mockRepo) GetBalance(ctx context.Context, accountID int64) (*models.AccountBalance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccountBalance), args.Error(1)
}
func (m *mockRepo) GetPostings(ctx context.Context, accountID int64) ([]*models.BalanceTransaction, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BalanceTransaction), args.Error(1)
}
func (m *mockRepo) GetPoolSnapshots(ctx context.Context) ([]*database.PoolSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*database.PoolSnapshot), args.Error(1)
}
func (m *mockRepo) GetAccountSums(ctx context.Context) ([]*database.AccountSum, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*database.AccountSum), args.Error(1)
}
func (m *mockRepo) CorrectPoolCounters(ctx context.Context, hospitalID int64, resourceType string, available, reserved, occupied int64, actor models.Actor, reason string) error {
	return m.Called(ctx, hospitalID, resourceType, available, reserved, occupied, actor, reason).Error(0)
}
func (m *mockRepo) InsertReconciliationRecord(ctx context.Context, record *models.ReconciliationRecord) error {
	return m.Called(ctx, record).Error(0)
}
func (m *mockRepo) GetReconciliationRecords(ctx context.Context, limit int) ([]*models.ReconciliationRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ReconciliationRecord), args.Error(1)
}
func (m *mockRepo) GetReconciliationRecordsByRun(ctx context.Context, runID string) ([]*models.ReconciliationRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ReconciliationRecord), args.Error(1)
}
func (m *mockRepo) GetAuditLog(ctx context.Context, hospitalID int64, resourceType string) ([]*models.ResourceAuditLogEntry, error) {
	args := m.Called(ctx, hospitalID, resourceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ResourceAuditLogEntry), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockReportWorker struct {
	mock.Mock
}

func (m *mockReportWorker) EnqueueBooking(ctx context.Context, booking *models.Booking) error {
	return m.Called(ctx, booking).Error(0)
}
func (m *mockReportWorker) EnqueueLedgerEntry(ctx context.Context, txn *models.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}
func (m *mockReportWorker) EnqueueDiscrepancy(ctx context.Context, record *models.ReconciliationRecord) error {
	return m.Called(ctx, record).Error(0)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) InitiatePayment(ctx context.Context, txn *models.Transaction) error {
	return m.Called(ctx, txn).Error(0)
}

type mockIdemStore struct {
	mock.Mock
}

func (m *mockIdemStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockIdemStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Initiate(ctx context.Context, bookingID int64) (*models.Transaction, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockLedger) Confirm(ctx context.Context, transactionID int64, gatewayReference string) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID, gatewayReference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockLedger) Fail(ctx context.Context, transactionID int64, reason string) error {
	return m.Called(ctx, transactionID, reason).Error(0)
}
func (m *mockLedger) Refund(ctx context.Context, transactionID, amount int64) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}
func (m *mockLedger) OnPaymentCallback(ctx context.Context, transactionID int64, gatewayStatus, gatewayReference string) error {
	return m.Called(ctx, transactionID, gatewayStatus, gatewayReference).Error(0)
}
func (m *mockLedger) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}
