package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"medvik/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentApprovals(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	createTestPool(t, db, 1, models.ResourceBed, 2)
	actor := models.Actor{ID: 2, Role: models.RoleHospital}

	const numGoroutines = 6
	bookings := make([]*models.Booking, numGoroutines)
	for i := range bookings {
		bookings[i] = createTestBooking(t, db, 1, models.ResourceBed)
	}

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(bookingID int64) {
			defer wg.Done()
			_, aErr := db.ApproveBooking(ctx, bookingID, actor)
			results <- aErr
		}(bookings[i].ID)
	}

	wg.Wait()
	close(results)

	successCount := 0
	capacityFailures := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, ErrInsufficientCapacity):
			capacityFailures++
		default:
			t.Errorf("unexpected approval error: %v", err)
		}
	}

	// ровно две койки, ровно два одобрения
	assert.Equal(t, 2, successCount)
	assert.Equal(t, numGoroutines-2, capacityFailures)

	pool, err := db.GetPool(ctx, 1, models.ResourceBed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pool.Available)
	assert.Equal(t, int64(2), pool.Reserved)
	assert.True(t, pool.Consistent())

	approved, err := db.GetBookingsByStatus(ctx, models.StatusApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 2)
}
