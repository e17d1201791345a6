package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis hashes:
//
//	<prefix>:total            approved|rejected|failed
//	<prefix>:minute:<yyyymmddhhmm>  same fields, expiring after ttl
//	<prefix>:type             <TYPE>:<outcome>
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "convenio:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if ev.PaymentType != "" {
		pipe.HIncrBy(ctx, s.prefix+":type", ev.PaymentType+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Total reads the cumulative counters back.
func (s *RedisStore) Total(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	for field, raw := range vals {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch Outcome(field) {
		case OutcomeApproved:
			c.Approved = n
		case OutcomeRejected:
			c.Rejected = n
		case OutcomeFailed:
			c.Failed = n
		}
	}
	return c, nil
}
