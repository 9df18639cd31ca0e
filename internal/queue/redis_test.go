package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *TickQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test", time.Minute)
}

func TestEnqueueDequeueReady(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1", PriorityRecurring, time.Time{}))

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	// Leased, not gone.
	d, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, d.Ready)
	assert.EqualValues(t, 1, d.InFlight)

	require.NoError(t, q.Ack(ctx, "job-1"))
	d, _ = q.Snapshot(ctx)
	assert.EqualValues(t, 0, d.InFlight)
}

func TestTriggerPreemptsRecurring(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "recurring-tick", PriorityRecurring, time.Time{}))
	require.NoError(t, q.Enqueue(ctx, "manual-tick", PriorityTrigger, time.Time{}))

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "manual-tick", id, "trigger priority dequeues first")

	id, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "recurring-tick", id)
}

func TestScheduledPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	runAt := time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, "job-1", PriorityRecurring, runAt))

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Empty(t, id, "not due yet")

	n, err := q.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.PromoteDue(ctx, runAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestReclaimExpiredLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1", PriorityRecurring, time.Time{}))
	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	// Lease not yet expired.
	ids, err := q.ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Past the lease deadline the tick comes back as ready.
	ids, err = q.ReclaimExpired(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ids)

	id, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestAttemptCounterSurvivesAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1", PriorityRecurring, time.Time{}))

	n, err := q.IncrAttempts(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = q.IncrAttempts(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, q.Ack(ctx, "job-1"))
	n, err = q.Attempts(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "attempt budget persists across ticks")

	require.NoError(t, q.Forget(ctx, "job-1"))
	n, err = q.Attempts(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduledTickKeepsPriorityAcrossTrigger(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	// A recurring tick waits in the scheduled set while an immediate
	// trigger for the same job runs through.
	runAt := time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, "tick-1", PriorityRecurring, runAt))
	require.NoError(t, q.Enqueue(ctx, "tick-1", PriorityTrigger, time.Time{}))

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "tick-1", id)
	require.NoError(t, q.Ack(ctx, "tick-1"))

	n, err := q.PromoteDue(ctx, runAt.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The promoted tick lands back on the recurring list, not the
	// trigger list the manual run used.
	recurring, err := q.client.LLen(ctx, q.readyKey(PriorityRecurring)).Result()
	require.NoError(t, err)
	trigger, err := q.client.LLen(ctx, q.readyKey(PriorityTrigger)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, recurring)
	assert.EqualValues(t, 0, trigger)
}

func TestReclaimedTriggerReturnsToTriggerList(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "manual-tick", PriorityTrigger, time.Time{}))
	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "manual-tick", id)

	ids, err := q.ReclaimExpired(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"manual-tick"}, ids)

	n, err := q.client.LLen(ctx, q.readyKey(PriorityTrigger)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSnapshotDepths(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "ready-1", PriorityRecurring, time.Time{}))
	require.NoError(t, q.Enqueue(ctx, "delayed-1", PriorityRecurring, time.Now().Add(time.Hour)))

	d, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, d.Ready)
	assert.EqualValues(t, 1, d.Delayed)
	assert.EqualValues(t, 0, d.InFlight)
}
