package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"
	"ms-tourbooking/internal/utils"

	"github.com/go-redis/redis/v8"
)

const datesKeyPrefix = "tour_dates:"

// DateSource is the store the cache reads through to.
type DateSource interface {
	AvailableDates(ctx context.Context, tourID string, from time.Time) ([]models.TourDate, error)
}

// DatesCache keeps the published date list of each tour in Redis. A stale
// list is harmless: the allocator re-reads capacity before committing, and a
// missing date is reported back so the dialog refreshes.
type DatesCache struct {
	Client *redis.Client
	source DateSource
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

func NewDatesCache(client *redis.Client, source DateSource, ttl time.Duration, log *logger.Logger) *DatesCache {
	return &DatesCache{
		Client: client,
		source: source,
		ttl:    ttl,
		logger: log,
		now:    time.Now,
	}
}

func datesKey(tourID string) string {
	return datesKeyPrefix + tourID
}

// AvailableDates returns today-or-later bookable dates, from the cache when it
// holds a list for the tour.
func (c *DatesCache) AvailableDates(ctx context.Context, tourID string) ([]models.TourDate, error) {
	key := datesKey(tourID)
	today := utils.TruncateDay(c.now())

	raw, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var dates []models.TourDate
		if err := json.Unmarshal(raw, &dates); err == nil {
			return upcoming(dates, today), nil
		}
		c.logger.Warn("REDIS", "dropping unreadable dates entry "+key)
		c.Client.Del(ctx, key)
	case err != redis.Nil:
		c.logger.Warn("REDIS", fmt.Sprintf("dates cache read failed for tour %s: %v", tourID, err))
	}

	dates, err := c.source.AvailableDates(ctx, tourID, today)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		payload, err := json.Marshal(dates)
		if err != nil {
			return nil, fmt.Errorf("encode dates: %w", err)
		}
		if err := c.Client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("REDIS", fmt.Sprintf("dates cache write failed for tour %s: %v", tourID, err))
		}
	}
	return dates, nil
}

func (c *DatesCache) InvalidateDates(ctx context.Context, tourID string) error {
	return c.Client.Del(ctx, datesKey(tourID)).Err()
}

// upcoming drops dates that have passed since the list was cached.
func upcoming(dates []models.TourDate, today time.Time) []models.TourDate {
	out := make([]models.TourDate, 0, len(dates))
	for _, d := range dates {
		if !utils.IsBeforeDay(d.AvailableDate, today) {
			out = append(out, d)
		}
	}
	return out
}
