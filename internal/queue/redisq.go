package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"

	"github.com/you/claimq/internal/domain"
)

const (
	readyKey = "events:queue"
	delayKey = "events:delay"
)

// RedisQ is the at-least-once transport collaborator: a list of ready
// envelopes plus a ZSET of envelopes deferred for later redelivery. It makes
// no exactly-once promise; that is the claim layer's job.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// Enqueue publishes an envelope, deferred until runAt if that is in the
// future. Redelivery after lock contention goes through here too.
func (q *RedisQ) Enqueue(ctx context.Context, env domain.Envelope, runAt time.Time) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if time.Until(runAt) > 0 {
		return q.rdb.ZAdd(ctx, delayKey, r.Z{Score: float64(runAt.Unix()), Member: string(b)}).Err()
	}
	return q.rdb.LPush(ctx, readyKey, string(b)).Err()
}

// Dequeue blocks up to the given duration for the next ready envelope.
// ok is false when the wait timed out with nothing to deliver.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (domain.Envelope, bool, error) {
	res, err := q.rdb.BRPop(ctx, block, readyKey).Result()
	if err == r.Nil {
		return domain.Envelope{}, false, nil
	}
	if err != nil {
		return domain.Envelope{}, false, err
	}
	var env domain.Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return domain.Envelope{}, false, err
	}
	return env, true, nil
}

// MoveDue promotes envelopes whose deferral has expired back onto the ready
// list, at most batch per call.
func (q *RedisQ) MoveDue(ctx context.Context, now int64, batch int64) error {
	members, err := q.rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(members) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, readyKey, m)
		pipe.ZRem(ctx, delayKey, m)
	}
	_, err = pipe.Exec(ctx)
	return err
}
