package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"qrattendance/internal/schedule"
)

// Default cache lifetimes. Shifts rarely change; activities are edited often.
const (
	DefaultTypesTTL      = 24 * time.Hour
	DefaultActivitiesTTL = 5 * time.Minute
)

const cachePrefix = "directory:"

// Cached fronts a Source with Redis. Concurrent misses for the same key are
// collapsed into one lookup. Subjects are not cached.
type Cached struct {
	src           Source
	rdb           redis.Cmdable
	typesTTL      time.Duration
	activitiesTTL time.Duration
	group         singleflight.Group
	logger        *zap.Logger
}

// NewCached wraps src. Non-positive TTLs fall back to the defaults.
func NewCached(src Source, rdb redis.Cmdable, typesTTL, activitiesTTL time.Duration, logger *zap.Logger) *Cached {
	if typesTTL <= 0 {
		typesTTL = DefaultTypesTTL
	}
	if activitiesTTL <= 0 {
		activitiesTTL = DefaultActivitiesTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		src:           src,
		rdb:           rdb,
		typesTTL:      typesTTL,
		activitiesTTL: activitiesTTL,
		logger:        logger.Named("directory.cache"),
	}
}

func typeKey(id int64) string     { return fmt.Sprintf("%sattendance_type:%d", cachePrefix, id) }
func activityKey(id int64) string { return fmt.Sprintf("%sactivity:%d", cachePrefix, id) }

func activeKey(gen int64, day schedule.Date) string {
	return fmt.Sprintf("%sactivities:active:%d:%s", cachePrefix, gen, day)
}

const (
	typesKey = cachePrefix + "attendance_types"
	// activeGenKey is bumped on every activity write, retiring all cached
	// per-day active lists at once.
	activeGenKey = cachePrefix + "activities:gen"
)

func (c *Cached) Subject(ctx context.Context, id int64) (Subject, error) {
	return c.src.Subject(ctx, id)
}

func (c *Cached) AttendanceType(ctx context.Context, id int64) (schedule.AttendanceType, error) {
	return load(ctx, c, typeKey(id), c.typesTTL, func() (schedule.AttendanceType, error) {
		return c.src.AttendanceType(ctx, id)
	})
}

func (c *Cached) AttendanceTypes(ctx context.Context) ([]schedule.AttendanceType, error) {
	return load(ctx, c, typesKey, c.typesTTL, func() ([]schedule.AttendanceType, error) {
		return c.src.AttendanceTypes(ctx)
	})
}

func (c *Cached) Activity(ctx context.Context, id int64) (schedule.Activity, error) {
	return load(ctx, c, activityKey(id), c.activitiesTTL, func() (schedule.Activity, error) {
		return c.src.Activity(ctx, id)
	})
}

// ActiveActivities caches the eligible set per calendar day; eligibility
// depends only on the date.
func (c *Cached) ActiveActivities(ctx context.Context, now time.Time) ([]schedule.Activity, error) {
	gen, err := c.rdb.Get(ctx, activeGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache read failed", zap.String("key", activeGenKey), zap.Error(err))
		return c.src.ActiveActivities(ctx, now)
	}
	return load(ctx, c, activeKey(gen, schedule.DateOf(now)), c.activitiesTTL, func() ([]schedule.Activity, error) {
		return c.src.ActiveActivities(ctx, now)
	})
}

// Invalidate drops the cached definition of an activity and every cached
// active list.
func (c *Cached) Invalidate(ctx context.Context, activityID int64) error {
	if err := c.rdb.Del(ctx, activityKey(activityID)).Err(); err != nil {
		return err
	}
	return c.rdb.Incr(ctx, activeGenKey).Err()
}

func (c *Cached) catalog() (Catalog, error) {
	cat, ok := c.src.(Catalog)
	if !ok {
		return nil, errors.New("directory: source does not support activity changes")
	}
	return cat, nil
}

// ListActivities is not cached; it serves the admin screens only.
func (c *Cached) ListActivities(ctx context.Context, limit, offset int) ([]schedule.Activity, error) {
	cat, err := c.catalog()
	if err != nil {
		return nil, err
	}
	return cat.ListActivities(ctx, limit, offset)
}

func (c *Cached) CreateActivity(ctx context.Context, a schedule.Activity) (schedule.Activity, error) {
	cat, err := c.catalog()
	if err != nil {
		return schedule.Activity{}, err
	}
	created, err := cat.CreateActivity(ctx, a)
	if err != nil {
		return schedule.Activity{}, err
	}
	c.invalidate(ctx, created.ID)
	return created, nil
}

func (c *Cached) UpdateActivity(ctx context.Context, a schedule.Activity) (schedule.Activity, error) {
	cat, err := c.catalog()
	if err != nil {
		return schedule.Activity{}, err
	}
	updated, err := cat.UpdateActivity(ctx, a)
	if err != nil {
		return schedule.Activity{}, err
	}
	c.invalidate(ctx, updated.ID)
	return updated, nil
}

func (c *Cached) DeleteActivity(ctx context.Context, id int64) error {
	cat, err := c.catalog()
	if err != nil {
		return err
	}
	if err := cat.DeleteActivity(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// invalidate runs after a committed write, so a cache fault only delays
// visibility until the entries expire.
func (c *Cached) invalidate(ctx context.Context, id int64) {
	if err := c.Invalidate(ctx, id); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Int64("activity_id", id), zap.Error(err))
	}
}

// load reads key from Redis, falling back to fetch on a miss or a cache fault.
// Cache faults are logged and never fail the lookup.
func load[T any](ctx context.Context, c *Cached, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	var out T
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if jerr := json.Unmarshal([]byte(raw), &out); jerr == nil {
			return out, nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		val, err := fetch()
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(val); err == nil {
			if err := c.rdb.Set(ctx, key, string(b), ttl).Err(); err != nil {
				c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return val, nil
	})
	if err != nil {
		return out, err
	}
	return v.(T), nil
}
