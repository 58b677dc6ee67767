package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// Locker guards booking critical sections. A booking holds one key per
// contended resource-day, e.g. the doctor's day and the room's day.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// DoctorDayKey is the lock key serializing bookings for one doctor on one day.
func DoctorDayKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:doctor:%s:%s", doctorID.String(), day.UTC().Format("2006-01-02"))
}

// RoomDayKey is the lock key serializing bookings for one room on one day.
func RoomDayKey(roomID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:room:%s:%s", roomID.String(), day.UTC().Format("2006-01-02"))
}

// WaitlistPatientKey is the lock key serializing waitlist writes for one
// patient, so the duplicate-preference check and the insert are atomic.
func WaitlistPatientKey(patientID uuid.UUID) string {
	return fmt.Sprintf("lock:waitlist:%s", patientID.String())
}

type redisResourceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResourceLocker creates a locker that holds one Redis key per resource-day.
func NewRedisResourceLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisResourceLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisResourceLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}

	// Sorted acquisition order so two bookings contending on the same
	// pair of resources cannot deadlock each other.
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	token := uuid.NewString()
	acquired := make([]string, 0, len(sorted))

	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = l.release(ctx, acquired[i], token)
		}
	}

	for _, key := range sorted {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			release()
			return fmt.Errorf("acquire booking lock %s: %w", key, err)
		}
		if !ok {
			release()
			return ErrLockNotAcquired
		}
		acquired = append(acquired, key)
	}

	defer release()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisResourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
