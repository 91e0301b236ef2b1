package worker

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medvik/internal/database"
	"medvik/internal/models"

	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewReportWorker(db, sheets, nil, RetryPolicy{}, nil)

	booking := &models.Booking{
		ID:           1,
		UserID:       1,
		HospitalID:   2,
		ResourceType: models.ResourceBed,
		PatientName:  "Doe",
		Status:       models.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	ctx := context.Background()
	if err := worker.EnqueueBooking(ctx, booking); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if sheets.bookingCalls != 1 {
		t.Fatalf("expected booking call, got %d", sheets.bookingCalls)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("boom")}
	worker := NewReportWorker(db, sheets, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	booking := &models.Booking{ID: 2, UserID: 1, HospitalID: 2, ResourceType: models.ResourceBed, Status: models.StatusPending}

	ctx := context.Background()
	if err := worker.EnqueueBooking(ctx, booking); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "retry" {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("fatal")}
	worker := NewReportWorker(db, sheets, nil, RetryPolicy{MaxRetries: 1}, nil)

	booking := &models.Booking{ID: 3, UserID: 1, HospitalID: 2, ResourceType: models.ResourceBed, Status: models.StatusPending}

	ctx := context.Background()
	worker.EnqueueBooking(ctx, booking)
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestProcessTaskWithoutSheetsWriter(t *testing.T) {
	db := newTestDB(t)
	worker := NewReportWorker(db, nil, nil, RetryPolicy{}, nil)

	booking := &models.Booking{ID: 4, UserID: 1, HospitalID: 2, ResourceType: models.ResourceBed, Status: models.StatusPending}

	ctx := context.Background()
	if err := worker.EnqueueBooking(ctx, booking); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed without writer, got %s", status)
	}
}

func TestHandleTask(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewReportWorker(db, sheets, nil, RetryPolicy{MaxRetries: 3}, nil)

	ctx := context.Background()

	t.Run("BookingUpsert", func(t *testing.T) {
		booking := &models.Booking{ID: 1, PatientName: "Doe"}
		err := worker.handleTask(ctx, TaskBookingUpsert, reportTaskPayload{Booking: booking})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.bookingCalls != 1 {
			t.Fatalf("expected 1 booking call, got %d", sheets.bookingCalls)
		}
	})

	t.Run("LedgerEntry", func(t *testing.T) {
		txn := &models.Transaction{ID: 4, Amount: 1000}
		err := worker.handleTask(ctx, TaskLedgerEntry, reportTaskPayload{Transaction: txn})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.ledgerCalls != 1 {
			t.Fatalf("expected 1 ledger call, got %d", sheets.ledgerCalls)
		}
	})

	t.Run("Discrepancy", func(t *testing.T) {
		record := &models.ReconciliationRecord{RunID: "run-1", Scope: models.ScopeResource}
		err := worker.handleTask(ctx, TaskDiscrepancy, reportTaskPayload{Record: record})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.discrepancyCalls != 1 {
			t.Fatalf("expected 1 discrepancy call, got %d", sheets.discrepancyCalls)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		err := worker.handleTask(ctx, "bogus", reportTaskPayload{})
		if err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})

	t.Run("MissingPayload", func(t *testing.T) {
		err := worker.handleTask(ctx, TaskBookingUpsert, reportTaskPayload{})
		if err == nil {
			t.Fatalf("expected error for missing booking payload")
		}
	})
}

func TestRetryPolicyNext(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	d1, ok1 := policy.Next(1)
	d2, ok2 := policy.Next(2)
	d5, ok5 := policy.Next(5)

	if !ok1 || d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s ok=%v", d1, ok1)
	}
	if !ok2 || d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s ok=%v", d2, ok2)
	}
	if !ok5 || d5 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s ok=%v", d5, ok5)
	}

	if _, ok := policy.Next(10); ok {
		t.Fatalf("expected exhausted budget at attempt 10")
	}

	// нулевая политика нормализуется сама
	if d, ok := (RetryPolicy{}).Next(1); !ok || d != 2*time.Second {
		t.Fatalf("zero policy: expected 2s default, got %s ok=%v", d, ok)
	}
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewReportWorker(db, sheets, nil, RetryPolicy{}, nil)

	ctx := context.Background()

	t.Run("NilBooking", func(t *testing.T) {
		if err := worker.EnqueueBooking(ctx, nil); err == nil {
			t.Fatalf("expected error for nil booking")
		}
	})

	t.Run("ZeroTransactionID", func(t *testing.T) {
		if err := worker.EnqueueLedgerEntry(ctx, &models.Transaction{}); err == nil {
			t.Fatalf("expected error for zero transaction id")
		}
	})

	t.Run("NilRecord", func(t *testing.T) {
		if err := worker.EnqueueDiscrepancy(ctx, nil); err == nil {
			t.Fatalf("expected error for nil record")
		}
	})
}

// Helpers

type fakeSheets struct {
	err              error
	bookingCalls     int
	ledgerCalls      int
	discrepancyCalls int
}

func (f *fakeSheets) UpsertBookingRow(ctx context.Context, b *models.Booking) error {
	f.bookingCalls++
	return f.err
}

func (f *fakeSheets) AppendLedgerRow(ctx context.Context, txn *models.Transaction) error {
	f.ledgerCalls++
	return f.err
}

func (f *fakeSheets) AppendDiscrepancyRow(ctx context.Context, record *models.ReconciliationRecord) error {
	f.discrepancyCalls++
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM report_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
