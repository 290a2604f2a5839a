package database

import (
	"context"
	"testing"
	"time"

	"ms-tourbooking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchemaOnSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, CreateSchema(ctx, db))
	// second run is a no-op
	require.NoError(t, CreateSchema(ctx, db))

	tour := &models.Tour{ID: "t1", Name: "Mangrove walk", Price: decimal.RequireFromString("149.50"), MaxParticipants: 20, IsActive: true}
	_, err = db.NewInsert().Model(tour).Exec(ctx)
	require.NoError(t, err)

	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	first := &models.TourDate{ID: "d1", TourID: "t1", AvailableDate: day, MaxBookings: 5, IsAvailable: true}
	_, err = db.NewInsert().Model(first).Exec(ctx)
	require.NoError(t, err)

	dup := &models.TourDate{ID: "d2", TourID: "t1", AvailableDate: day, MaxBookings: 5, IsAvailable: true}
	_, err = db.NewInsert().Model(dup).Exec(ctx)
	assert.Error(t, err, "one date per tour per day")

	var got models.Tour
	require.NoError(t, db.NewSelect().Model(&got).Where("id = ?", "t1").Scan(ctx))
	assert.True(t, got.Price.Equal(decimal.RequireFromString("149.5")))

	require.NoError(t, ResetSchema(ctx, db))
	count, err := db.NewSelect().Model((*models.Tour)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
