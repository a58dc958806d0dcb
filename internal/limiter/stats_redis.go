package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucketTTL bounds how long per-minute stat buckets live in Redis.
const bucketTTL = 24 * time.Hour

// RedisRecorder persists admission counters to Redis: a cumulative total hash
// plus per-minute bucket hashes that expire after bucketTTL. Useful when more
// than one hub instance feeds a shared dashboard.
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRecorder returns a recorder writing under the given key prefix.
func NewRedisRecorder(rdb *redis.Client, prefix string) *RedisRecorder {
	if prefix == "" {
		prefix = "healthhub:ratelimit"
	}
	return &RedisRecorder{rdb: rdb, prefix: prefix}
}

// Record increments the total and current-minute counters in one pipeline.
func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	bucket := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucket, field, 1)
	pipe.Expire(ctx, bucket, bucketTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// Totals reads the cumulative counters back. Missing fields read as zero.
func (r *RedisRecorder) Totals(ctx context.Context) (Counters, error) {
	vals, err := r.rdb.HGetAll(ctx, r.prefix+":total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("read admission totals: %w", err)
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return c, nil
}
