package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Priority orders ready lists. Manual "trigger now" ticks preempt the
// recurring schedule without disturbing it.
type Priority string

const (
	PriorityTrigger   Priority = "trigger"
	PriorityRecurring Priority = "recurring"
)

var priorities = []Priority{PriorityTrigger, PriorityRecurring}

// Depths is a point-in-time snapshot of queue occupancy.
type Depths struct {
	Ready    int64
	Delayed  int64
	InFlight int64
}

// TickQueue is the durable tick queue for one engine instance. Entries are
// job ids; they live in Redis so a process restart resumes the schedule, and
// a crash mid-tick surfaces as a reclaimed lease rather than a vanished job.
type TickQueue struct {
	client       *redis.Client
	ns           string
	scheduledKey string
	inflightKey  string
	metaPrefix   string
	leaseTTL     time.Duration
}

type Options struct {
	Addr     string
	Password string
	DB       int

	// Namespace isolates engine instances sharing one Redis.
	Namespace string
	LeaseTTL  time.Duration
}

func New(opts Options) *TickQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Namespace, opts.LeaseTTL)
}

// NewWithClient wraps an existing client; tests hand in a miniredis-backed one.
func NewWithClient(client *redis.Client, namespace string, leaseTTL time.Duration) *TickQueue {
	if namespace == "" {
		namespace = "teesched"
	}
	if leaseTTL == 0 {
		leaseTTL = 5 * time.Minute
	}
	return &TickQueue{
		client:       client,
		ns:           namespace,
		scheduledKey: namespace + ":scheduled",
		inflightKey:  namespace + ":inflight",
		metaPrefix:   namespace + ":meta:",
		leaseTTL:     leaseTTL,
	}
}

func (q *TickQueue) readyKey(p Priority) string {
	return fmt.Sprintf("%s:ready:%s", q.ns, p)
}

func (q *TickQueue) metaKey(jobID string) string {
	return q.metaPrefix + jobID
}

func (q *TickQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *TickQueue) Close() error {
	return q.client.Close()
}

// entry tags a queue member with the priority it was enqueued under, so two
// entries for the same job keep their own priorities.
func entry(p Priority, jobID string) string {
	return string(p) + "|" + jobID
}

func splitEntry(member string) (Priority, string) {
	if i := strings.IndexByte(member, '|'); i >= 0 {
		return Priority(member[:i]), member[i+1:]
	}
	return PriorityRecurring, member
}

// Enqueue places a tick on the ready list, or in the scheduled set when runAt
// is in the future.
func (q *TickQueue) Enqueue(ctx context.Context, jobID string, p Priority, runAt time.Time) error {
	if runAt.After(time.Now()) {
		return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: entry(p, jobID)}).Err()
	}
	return q.client.RPush(ctx, q.readyKey(p), jobID).Err()
}

// PromoteDue moves scheduled ticks whose time has come onto the ready list
// matching the priority each entry was enqueued under.
func (q *TickQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, m := range members {
		p, id := splitEntry(m)
		pipe.ZRem(ctx, q.scheduledKey, m)
		pipe.RPush(ctx, q.readyKey(p), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(members), nil
}

// Dequeue pops the highest-priority ready tick and moves it in-flight under a
// lease. Returns "" when nothing is ready.
func (q *TickQueue) Dequeue(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(priorities)+1)
	for _, p := range priorities {
		keys = append(keys, q.readyKey(p))
	}
	keys = append(keys, q.inflightKey)

	args := make([]interface{}, 0, len(priorities)+1)
	args = append(args, time.Now().Add(q.leaseTTL).UnixMilli())
	for _, p := range priorities {
		args = append(args, string(p))
	}
	res, err := dequeueScript.Run(ctx, q.client, keys, args...).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected dequeue result type %T", res)
	}
	return jobID, nil
}

// Ack releases a tick that reached a terminal decision. The attempt counter
// survives in meta so the retry budget spans process restarts; Forget clears it.
func (q *TickQueue) Ack(ctx context.Context, jobID string) error {
	members := make([]interface{}, 0, len(priorities))
	for _, p := range priorities {
		members = append(members, entry(p, jobID))
	}
	return q.client.ZRem(ctx, q.inflightKey, members...).Err()
}

// Forget drops all state for a job after its terminal phase.
func (q *TickQueue) Forget(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, p := range priorities {
		pipe.LRem(ctx, q.readyKey(p), 0, jobID)
		pipe.ZRem(ctx, q.inflightKey, entry(p, jobID))
		pipe.ZRem(ctx, q.scheduledKey, entry(p, jobID))
	}
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// ReclaimExpired re-queues ticks whose lease lapsed (worker crash mid-tick).
// The reclaimed tick runs again as a retryable failure instead of vanishing.
func (q *TickQueue) ReclaimExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	reclaimed := make([]string, 0, len(ids))
	for _, m := range ids {
		p, id := splitEntry(m)
		pipe.ZRem(ctx, q.inflightKey, m)
		pipe.RPush(ctx, q.readyKey(p), id)
		reclaimed = append(reclaimed, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// IncrAttempts bumps and returns the durable attempt counter for a job.
func (q *TickQueue) IncrAttempts(ctx context.Context, jobID string) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.metaKey(jobID), "attempts", 1).Result()
	return int(n), err
}

// Attempts reads the durable attempt counter without bumping it.
func (q *TickQueue) Attempts(ctx context.Context, jobID string) (int, error) {
	n, err := q.client.HGet(ctx, q.metaKey(jobID), "attempts").Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Snapshot reports current queue depths.
func (q *TickQueue) Snapshot(ctx context.Context) (Depths, error) {
	pipe := q.client.Pipeline()
	readyCmds := make([]*redis.IntCmd, 0, len(priorities))
	for _, p := range priorities {
		readyCmds = append(readyCmds, pipe.LLen(ctx, q.readyKey(p)))
	}
	delayed := pipe.ZCard(ctx, q.scheduledKey)
	inflight := pipe.ZCard(ctx, q.inflightKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depths{}, err
	}
	var d Depths
	for _, c := range readyCmds {
		d.Ready += c.Val()
	}
	d.Delayed = delayed.Val()
	d.InFlight = inflight.Val()
	return d, nil
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], ARGV[i+1] .. '|' .. job)
    return job
  end
end
return nil
`)
