package redis

import (
	"context"
	"fmt"
	"time"

	"ms-tourbooking/internal/utils"

	"github.com/go-redis/redis/v8"
)

const DefaultGuardTTL = 5 * time.Second

// SubmitGuard holds a short-lived per-user, per-date key while a booking
// request is in flight so a double click does not submit twice.
type SubmitGuard struct {
	Client *redis.Client
	ttl    time.Duration
	owner  string
}

func NewSubmitGuard(client *redis.Client, ttl time.Duration) *SubmitGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &SubmitGuard{
		Client: client,
		ttl:    ttl,
		owner:  utils.GenerateID(),
	}
}

func guardKey(userID, tourDateID string) string {
	return fmt.Sprintf("submit_guard:%s:%s", userID, tourDateID)
}

// Acquire reports false when the same user already has a request for the
// date in flight.
func (g *SubmitGuard) Acquire(ctx context.Context, userID, tourDateID string) (bool, error) {
	return g.Client.SetNX(ctx, guardKey(userID, tourDateID), g.owner, g.ttl).Result()
}

// releaseScript deletes the key only while it still holds the caller's owner
// token, in one step on the server.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release removes the key only if this guard still owns it. A key that
// expired and was taken by another request is left alone.
func (g *SubmitGuard) Release(ctx context.Context, userID, tourDateID string) error {
	err := releaseScript.Run(ctx, g.Client, []string{guardKey(userID, tourDateID)}, g.owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
