// Package jobs adapts the external background-job primitive spec.md
// assumes (named pools with bounded concurrency, at-least-once execution,
// sleep-until-signal or short-poll resume) onto Redis, generalizing the
// teacher's in-process pkg/queue (pool.go/worker.go) shape onto a
// cross-process-safe backend. Nothing in this package decides what a job
// does — that is bot-side business logic, explicitly out of scope — it
// only provides the primitive the rest of the system wakes and bounds.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "clawops:jobs:"
	poolKeyFmt   = keyPrefix + "pool:%s:active"
	signalChFmt  = keyPrefix + "signal:%s"
	poolScanGlob = keyPrefix + "pool:*:active"
)

// Waker is the narrow interface the decision lifecycle and the sweeper
// depend on to wake a suspended job — render_decision and the sweeper's
// expiry path both call Signal, per spec.md §5's decision-pause/resume
// pattern. Decoupled from Primitive so callers that only need to wake,
// never to acquire pool capacity, can be stubbed trivially in tests.
type Waker interface {
	Signal(ctx context.Context, key string) error
}

// Primitive is the Redis-backed realization of the job primitive.
type Primitive struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Primitive {
	return &Primitive{rdb: rdb}
}

// Signal wakes any job sleeping on key (typically a decision_id). Publish
// is fire-and-forget; if nobody is currently subscribed the message is
// simply dropped, which is why WaitForSignal also accepts a poll fallback.
func (p *Primitive) Signal(ctx context.Context, key string) error {
	return p.rdb.Publish(ctx, fmt.Sprintf(signalChFmt, key), "wake").Err()
}

// WaitForSignal blocks until a signal for key arrives, isDone reports true
// on a poll tick, or ctx is cancelled. isDone lets the caller re-check a
// durable state row (e.g. has the decision left NEEDS_DECISION?) so a
// dropped pub/sub message under the at-least-once job model never causes
// a permanent stall — this is the "short-interval polling on a state row"
// fallback spec.md §6 says is acceptable.
func (p *Primitive) WaitForSignal(ctx context.Context, key string, pollInterval time.Duration, isDone func(ctx context.Context) (bool, error)) error {
	sub := p.rdb.Subscribe(ctx, fmt.Sprintf(signalChFmt, key))
	defer sub.Close()

	woken := sub.Channel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-woken:
			done, err := isDone(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case <-ticker.C:
			done, err := isDone(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// TryAcquire attempts to claim one slot of maxConcurrency in poolName for
// jobID, granting a lease good for leaseTTL. Pools are identified by the
// card spec's concurrency_key per spec.md §5. Capacity accounting is a
// sorted set scored by lease expiry — stale members (past their score) are
// pruned before counting, same best-effort-bounded idiom the teacher's
// Worker.pollAndProcess uses for its own global capacity check.
func (p *Primitive) TryAcquire(ctx context.Context, poolName, jobID string, maxConcurrency int, leaseTTL time.Duration) (bool, error) {
	key := fmt.Sprintf(poolKeyFmt, poolName)
	now := time.Now()

	if _, err := p.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", now.UnixMilli())).Result(); err != nil {
		return false, fmt.Errorf("pruning expired leases: %w", err)
	}

	count, err := p.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("counting active leases: %w", err)
	}
	if int(count) >= maxConcurrency {
		return false, nil
	}

	// ZAdd on an existing member just updates its score, so a caller that
	// already holds a slot re-acquiring it extends the lease instead of
	// double-counting, the same advisory-renewal semantics as a decision
	// claim.
	if err := p.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Add(leaseTTL).UnixMilli()),
		Member: jobID,
	}).Err(); err != nil {
		return false, fmt.Errorf("acquiring lease: %w", err)
	}
	return true, nil
}

// Renew extends jobID's lease in poolName — the heartbeat a long-running
// job sends to avoid being treated as abandoned.
func (p *Primitive) Renew(ctx context.Context, poolName, jobID string, leaseTTL time.Duration) error {
	key := fmt.Sprintf(poolKeyFmt, poolName)
	return p.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().Add(leaseTTL).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Release frees jobID's slot in poolName on completion.
func (p *Primitive) Release(ctx context.Context, poolName, jobID string) error {
	key := fmt.Sprintf(poolKeyFmt, poolName)
	return p.rdb.ZRem(ctx, key, jobID).Err()
}

// ActiveCount reports how many leases are currently held in poolName,
// after pruning expired ones. Used for health/diagnostics.
func (p *Primitive) ActiveCount(ctx context.Context, poolName string) (int64, error) {
	key := fmt.Sprintf(poolKeyFmt, poolName)
	if _, err := p.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", time.Now().UnixMilli())).Result(); err != nil {
		return 0, fmt.Errorf("pruning expired leases: %w", err)
	}
	return p.rdb.ZCard(ctx, key).Result()
}

// PruneAllExpiredLeases sweeps every pool key and drops leases past their
// expiry, freeing capacity for jobs abandoned by a crashed worker without
// a matching Release. Called from the sweeper's phase loop rather than a
// separate timer, per spec.md §5's at-least-once requirement.
func (p *Primitive) PruneAllExpiredLeases(ctx context.Context) (int64, error) {
	var total int64
	now := fmt.Sprintf("%d", time.Now().UnixMilli())

	iter := p.rdb.Scan(ctx, 0, poolScanGlob, 100).Iterator()
	for iter.Next(ctx) {
		n, err := p.rdb.ZRemRangeByScore(ctx, iter.Val(), "-inf", now).Result()
		if err != nil {
			return total, fmt.Errorf("pruning leases for %s: %w", iter.Val(), err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("scanning pool keys: %w", err)
	}
	return total, nil
}
