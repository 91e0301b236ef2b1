package service

import (
	"context"
	"io"
	"testing"
	"time"

	"medvik/internal/config"
	"medvik/internal/database"
	"medvik/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func boolPtr(b bool) *bool { return &b }

func newAllocationFixture(cfg config.AllocationConfig) (*AllocationService, *mockRepo, *mockEventBus, *mockReportWorker, *mockLedger) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	worker := new(mockReportWorker)
	ledger := new(mockLedger)
	logger := zerolog.New(io.Discard)
	svc := NewAllocationService(repo, bus, worker, ledger, cfg, &logger)
	return svc, repo, bus, worker, ledger
}

func TestValidateBookingWindow(t *testing.T) {
	svc, _, _, _, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	now := time.Now()

	err := svc.ValidateBookingWindow(now.Add(time.Hour), now.Add(2*time.Hour))
	assert.NoError(t, err)

	err = svc.ValidateBookingWindow(now.AddDate(0, 0, -1), now.Add(time.Hour))
	assert.ErrorIs(t, err, database.ErrPastWindow)

	err = svc.ValidateBookingWindow(now.AddDate(0, 0, 31), now.AddDate(0, 0, 32))
	assert.ErrorIs(t, err, database.ErrWindowTooFar)

	err = svc.ValidateBookingWindow(now.Add(2*time.Hour), now.Add(time.Hour))
	assert.ErrorIs(t, err, database.ErrInvalidWindow)
}

func TestRequestBooking(t *testing.T) {
	svc, repo, bus, worker, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()

	booking := &models.Booking{
		UserID:        7,
		HospitalID:    1,
		ResourceType:  models.ResourceICUBed,
		PatientName:   "Doe",
		WindowStart:   time.Now().Add(time.Hour),
		WindowEnd:     time.Now().Add(26 * time.Hour),
		PaymentAmount: 100000,
	}

	repo.On("GetPool", ctx, int64(1), models.ResourceICUBed).Return(&models.ResourcePool{HospitalID: 1, ResourceType: models.ResourceICUBed}, nil)
	repo.On("CreateBooking", ctx, booking).Return(nil)
	bus.On("PublishJSON", "booking.requested", mock.Anything).Return(nil)
	worker.On("EnqueueBooking", ctx, booking).Return(nil)

	err := svc.RequestBooking(ctx, booking)
	assert.NoError(t, err)
	assert.Equal(t, models.UrgencyRoutine, booking.Urgency)
	repo.AssertExpectations(t)
	bus.AssertExpectations(t)
	worker.AssertExpectations(t)
}

func TestRequestBookingRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _, _, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})

	booking := &models.Booking{
		HospitalID:   1,
		ResourceType: models.ResourceBed,
		WindowStart:  time.Now().Add(time.Hour),
		WindowEnd:    time.Now().Add(2 * time.Hour),
	}

	err := svc.RequestBooking(context.Background(), booking)
	assert.Error(t, err)
}

func TestApprove(t *testing.T) {
	svc, repo, bus, worker, ledger := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()
	actor := models.Actor{ID: 42, Role: models.RoleHospital}

	approved := &models.Booking{
		ID:               9,
		Status:           models.StatusApproved,
		ReservationToken: "tok-1",
		PaymentAmount:    50000,
	}

	repo.On("ApproveBooking", ctx, int64(9), actor).Return(approved, nil)
	bus.On("PublishJSON", "booking.approved", mock.Anything).Return(nil)
	worker.On("EnqueueBooking", ctx, approved).Return(nil)
	ledger.On("Initiate", ctx, int64(9)).Return(&models.Transaction{ID: 1, BookingID: 9}, nil)

	booking, err := svc.Approve(ctx, 9, actor)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusApproved, booking.Status)
	ledger.AssertExpectations(t)
}

func TestApproveAutoDeclinesWhenFull(t *testing.T) {
	// авто-decline включён по умолчанию
	svc, repo, bus, worker, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()
	actor := models.Actor{ID: 42, Role: models.RoleHospital}

	pending := &models.Booking{ID: 9, Status: models.StatusPending, Version: 1}

	repo.On("ApproveBooking", ctx, int64(9), actor).Return(nil, database.ErrInsufficientCapacity)
	repo.On("GetBooking", ctx, int64(9)).Return(pending, nil)
	repo.On("TransitionBooking", ctx, int64(9), int64(1), models.StatusDeclined, models.SystemActor, models.ReasonResourceUnavailable).Return(nil)
	bus.On("PublishJSON", "booking.declined", mock.Anything).Return(nil)
	worker.On("EnqueueBooking", ctx, mock.Anything).Return(nil)

	_, err := svc.Approve(ctx, 9, actor)
	assert.ErrorIs(t, err, database.ErrInsufficientCapacity)
	repo.AssertExpectations(t)
}

func TestApproveLeavesPendingWithoutAutoDecline(t *testing.T) {
	svc, repo, _, _, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30, DeclineWhenFull: boolPtr(false)})
	ctx := context.Background()
	actor := models.Actor{ID: 42, Role: models.RoleHospital}

	repo.On("ApproveBooking", ctx, int64(9), actor).Return(nil, database.ErrInsufficientCapacity)

	_, err := svc.Approve(ctx, 9, actor)
	assert.ErrorIs(t, err, database.ErrInsufficientCapacity)
	repo.AssertNotCalled(t, "TransitionBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelRefundsPaidBooking(t *testing.T) {
	svc, repo, bus, worker, ledger := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()
	actor := models.Actor{ID: 7, Role: models.RoleUser}

	booking := &models.Booking{
		ID:               9,
		Status:           models.StatusApproved,
		Version:          3,
		ReservationToken: "tok-1",
		PaymentStatus:    models.PaymentStatusPaid,
		PaymentAmount:    50000,
	}
	txn := &models.Transaction{ID: 4, BookingID: 9, Amount: 50000}

	repo.On("GetBooking", ctx, int64(9)).Return(booking, nil)
	repo.On("TransitionBooking", ctx, int64(9), int64(3), models.StatusCancelled, actor, "patient recovered").Return(nil)
	repo.On("GetReservation", ctx, "tok-1").Return(&models.Reservation{Token: "tok-1", State: models.ReservationHeld}, nil)
	repo.On("ReleaseReservation", ctx, "tok-1", actor, "patient recovered").Return(nil)
	repo.On("GetTransactionByBooking", ctx, int64(9)).Return(txn, nil)
	ledger.On("Refund", ctx, int64(4), int64(50000)).Return(txn, nil)
	bus.On("PublishJSON", "booking.cancelled", mock.Anything).Return(nil)
	worker.On("EnqueueBooking", ctx, mock.Anything).Return(nil)

	err := svc.Cancel(ctx, 9, 3, actor, "patient recovered")
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestCompleteReleasesCommittedOccupancy(t *testing.T) {
	svc, repo, bus, worker, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()
	actor := models.Actor{ID: 42, Role: models.RoleHospital}

	booking := &models.Booking{
		ID:               9,
		Status:           models.StatusApproved,
		Version:          2,
		ReservationToken: "tok-1",
	}

	repo.On("GetBooking", ctx, int64(9)).Return(booking, nil)
	repo.On("TransitionBooking", ctx, int64(9), int64(2), models.StatusCompleted, actor, "").Return(nil)
	repo.On("GetReservation", ctx, "tok-1").Return(&models.Reservation{Token: "tok-1", State: models.ReservationCommitted}, nil)
	repo.On("ReleaseOccupancy", ctx, "tok-1", actor, "").Return(nil)
	bus.On("PublishJSON", "booking.completed", mock.Anything).Return(nil)
	worker.On("EnqueueBooking", ctx, mock.Anything).Return(nil)

	err := svc.Complete(ctx, 9, 2, actor)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestStartDueCommitsHeldReservations(t *testing.T) {
	svc, repo, _, _, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()
	now := time.Now()

	due := []*models.Booking{
		{ID: 1, ReservationToken: "tok-1"},
		{ID: 2, ReservationToken: "tok-2"},
		{ID: 3}, // no token, skipped
	}

	repo.On("GetApprovedDueStart", ctx, now).Return(due, nil)
	repo.On("GetReservation", ctx, "tok-1").Return(&models.Reservation{Token: "tok-1", State: models.ReservationHeld}, nil)
	repo.On("GetReservation", ctx, "tok-2").Return(&models.Reservation{Token: "tok-2", State: models.ReservationCommitted}, nil)
	repo.On("CommitOccupancy", ctx, "tok-1", models.SystemActor).Return(nil)

	started, err := svc.StartDue(ctx, now)
	assert.NoError(t, err)
	assert.Equal(t, 1, started)
	repo.AssertNotCalled(t, "CommitOccupancy", ctx, "tok-2", models.SystemActor)
}

func TestAdjustCapacityRecordsShortfall(t *testing.T) {
	svc, repo, _, _, _ := newAllocationFixture(config.AllocationConfig{MaxBookingDays: 30})
	ctx := context.Background()
	actor := models.Actor{ID: 1, Role: models.RoleAdmin}

	repo.On("AdjustTotal", ctx, int64(1), models.ResourceBed, int64(-5), actor, "ward closure", true).
		Return(nil, database.ErrCapacityShortfall)
	repo.On("GetPool", ctx, int64(1), models.ResourceBed).
		Return(&models.ResourcePool{HospitalID: 1, ResourceType: models.ResourceBed, Total: 10, Available: 2, Reserved: 4, Occupied: 4}, nil)
	repo.On("InsertReconciliationRecord", ctx, mock.MatchedBy(func(r *models.ReconciliationRecord) bool {
		return r.Scope == models.ScopeResource && r.ResolutionAction == models.ResolutionFlagged
	})).Return(nil)

	_, err := svc.AdjustCapacity(ctx, 1, models.ResourceBed, -5, actor, "ward closure")
	assert.ErrorIs(t, err, database.ErrCapacityShortfall)
	repo.AssertExpectations(t)
}
