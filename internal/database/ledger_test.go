package database

import (
	"context"
	"testing"
	"time"

	"medvik/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const platformAccount = int64(1)

func createTestTransaction(t *testing.T, db *DB, bookingID int64, amount int64) *models.Transaction {
	fee, share := models.SplitAmount(amount, 30)
	txn := &models.Transaction{
		BookingID:     bookingID,
		UserID:        10,
		HospitalID:    7,
		Amount:        amount,
		PlatformFee:   fee,
		HospitalShare: share,
	}
	require.NoError(t, db.CreateTransaction(context.Background(), txn))
	return txn
}

func TestCreateTransactionRejectsBadSplit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	txn := &models.Transaction{
		BookingID: 1, UserID: 10, HospitalID: 7,
		Amount: 1000, PlatformFee: 300, HospitalShare: 600,
	}
	err := db.CreateTransaction(context.Background(), txn)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not sum")
}

func TestConfirmTransactionPostsSplit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	txn := createTestTransaction(t, db, booking.ID, 1000)

	confirmed, err := db.ConfirmTransaction(ctx, txn.ID, "gw-ref-1", platformAccount)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, confirmed.Status)
	assert.Equal(t, "gw-ref-1", confirmed.GatewayReference)

	platform, err := db.GetBalance(ctx, platformAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(300), platform.Balance)

	hospital, err := db.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(700), hospital.Balance)

	postings, err := db.GetPostings(ctx, 7)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, models.PostingTypeCredit, postings[0].Type)
	assert.Equal(t, int64(0), postings[0].BalanceBefore)
	assert.Equal(t, int64(700), postings[0].BalanceAfter)

	// booking marked paid in the same transaction
	stored, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestConfirmTransactionIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	txn := createTestTransaction(t, db, booking.ID, 1000)

	_, err := db.ConfirmTransaction(ctx, txn.ID, "gw-ref-1", platformAccount)
	require.NoError(t, err)

	// повторный колбэк не двигает баланс
	dup, err := db.ConfirmTransaction(ctx, txn.ID, "gw-ref-1", platformAccount)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	require.NotNil(t, dup)
	assert.Equal(t, models.TxStatusCompleted, dup.Status)

	platform, err := db.GetBalance(ctx, platformAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(300), platform.Balance)

	postings, err := db.GetPostings(ctx, platformAccount)
	require.NoError(t, err)
	assert.Len(t, postings, 1)
}

func TestFailTransaction(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	txn := createTestTransaction(t, db, booking.ID, 1000)

	failed, err := db.FailTransaction(ctx, txn.ID, "gateway reported rejected")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, failed.Status)
	assert.Equal(t, "gateway reported rejected", failed.FailureReason)

	stored, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)

	// failed is terminal for the transaction
	_, err = db.ConfirmTransaction(ctx, txn.ID, "late", platformAccount)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = db.FailTransaction(ctx, txn.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRefundTransactionPartial(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	txn := createTestTransaction(t, db, booking.ID, 1000)
	_, err := db.ConfirmTransaction(ctx, txn.ID, "gw-ref-1", platformAccount)
	require.NoError(t, err)

	refunded, err := db.RefundTransaction(ctx, txn.ID, 500, platformAccount)
	require.NoError(t, err)
	// partial refund keeps the transaction completed
	assert.Equal(t, models.TxStatusCompleted, refunded.Status)

	// 500 * 300/1000 = 150 от платформы, остаток 350 от больницы
	platform, err := db.GetBalance(ctx, platformAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(150), platform.Balance)

	hospital, err := db.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(350), hospital.Balance)
}

func TestRefundTransactionFull(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	txn := createTestTransaction(t, db, booking.ID, 1000)
	_, err := db.ConfirmTransaction(ctx, txn.ID, "gw-ref-1", platformAccount)
	require.NoError(t, err)

	refunded, err := db.RefundTransaction(ctx, txn.ID, 1000, platformAccount)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusRefunded, refunded.Status)

	platform, err := db.GetBalance(ctx, platformAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(0), platform.Balance)

	hospital, err := db.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hospital.Balance)

	stored, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)

	// refunded transactions cannot be refunded again
	_, err = db.RefundTransaction(ctx, txn.ID, 100, platformAccount)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRefundTransactionGuards(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	txn := createTestTransaction(t, db, booking.ID, 1000)

	// pending transactions cannot be refunded
	_, err := db.RefundTransaction(ctx, txn.ID, 100, platformAccount)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = db.ConfirmTransaction(ctx, txn.ID, "gw", platformAccount)
	require.NoError(t, err)

	_, err = db.RefundTransaction(ctx, txn.ID, 0, platformAccount)
	assert.Error(t, err)
	_, err = db.RefundTransaction(ctx, txn.ID, 2000, platformAccount)
	assert.Error(t, err)
}

func TestBalanceMatchesPostingSum(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	first := createTestBooking(t, db, 7, models.ResourceBed)
	second := createTestBooking(t, db, 7, models.ResourceBed)

	txn1 := createTestTransaction(t, db, first.ID, 1000)
	txn2 := createTestTransaction(t, db, second.ID, 333)

	_, err := db.ConfirmTransaction(ctx, txn1.ID, "gw-1", platformAccount)
	require.NoError(t, err)
	_, err = db.ConfirmTransaction(ctx, txn2.ID, "gw-2", platformAccount)
	require.NoError(t, err)
	_, err = db.RefundTransaction(ctx, txn1.ID, 400, platformAccount)
	require.NoError(t, err)

	for _, accountID := range []int64{platformAccount, 7} {
		balance, err := db.GetBalance(ctx, accountID)
		require.NoError(t, err)

		postings, err := db.GetPostings(ctx, accountID)
		require.NoError(t, err)

		var sum int64
		for _, p := range postings {
			sum += p.Amount
		}
		assert.Equal(t, balance.Balance, sum, "account %d", accountID)
	}
}

func TestGetExpiredPendingTransactions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := createTestBooking(t, db, 7, models.ResourceBed)
	stale := createTestTransaction(t, db, booking.ID, 1000)

	expired, err := db.GetExpiredPendingTransactions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	// nothing older than a cutoff in the past
	expired, err = db.GetExpiredPendingTransactions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}
