package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = "memory"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RateLimitMax = 0
	return cfg
}

func newTestQueue(t *testing.T, cfg Config) (*Queue, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(epoch)
	q, err := New(cfg, NewMemoryBackend(), &testutil.DummyLogger{}, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, clock
}

func payload(id string, priority int) model.JobPayload {
	return model.JobPayload{ScanID: id, URL: "https://example.com/" + id, Priority: priority}
}

func dequeueWithin(t *testing.T, q *Queue, d time.Duration) (*Job, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Dequeue(ctx)
}

// ─── Enqueue ───────────────────────────────────────────────────────────

func TestEnqueue_IsIdempotentPerScanID(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()

	res, err := q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)

	job, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	res, err = q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res, "active job must not be duplicated")

	_, err = dequeueWithin(t, q, 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, q.Ack(ctx, job))
}

func TestEnqueue_DefaultsAndValidation(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.JobPayload{URL: "https://example.com"})
	assert.True(t, model.IsValidation(err))

	_, err = q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	j, err := q.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, j.MaxAttempts)
}

func TestEnqueue_TransportFailureIsWrapped(t *testing.T) {
	q, err := New(testConfig(), &brokenBackend{MemoryBackend: NewMemoryBackend()}, &testutil.DummyLogger{})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), payload("s1", 0))
	assert.ErrorIs(t, err, ErrTransport)
}

// ─── Dequeue ───────────────────────────────────────────────────────────

func TestDequeue_PriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	for _, p := range []model.JobPayload{payload("a", 0), payload("b", 1), payload("c", 0), payload("d", 1)} {
		_, err := q.Enqueue(ctx, p)
		require.NoError(t, err)
	}
	var got []string
	for i := 0; i < 4; i++ {
		j, err := dequeueWithin(t, q, time.Second)
		require.NoError(t, err)
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestDequeue_BlocksUntilEnqueue(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	q, _ := newTestQueue(t, cfg)

	done := make(chan *Job, 1)
	go func() {
		j, err := dequeueWithin(t, q, 2*time.Second)
		if err == nil {
			done <- j
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	_, err := q.Enqueue(context.Background(), payload("late", 0))
	require.NoError(t, err)

	select {
	case j := <-done:
		require.NotNil(t, j)
		assert.Equal(t, "late", j.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue was not woken by enqueue")
	}
}

func TestDequeue_EachJobDeliveredOnce(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	const jobs = 30
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, payload(fmt.Sprintf("s%02d", i), 0))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := dequeueWithin(t, q, 50*time.Millisecond)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
				_ = q.Ack(ctx, j)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestDequeue_RateLimitedBySlidingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitMax = 2
	cfg.RateLimitWindow = time.Minute
	q, clock := newTestQueue(t, cfg)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, payload(id, 0))
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		_, err := dequeueWithin(t, q, time.Second)
		require.NoError(t, err)
	}
	_, err := dequeueWithin(t, q, 40*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "third dispatch within the window must wait")

	clock.Advance(61 * time.Second)
	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c", j.ID)
}

func TestDequeue_PauseResume(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, payload("a", 0))
	require.NoError(t, err)

	q.Pause()
	assert.True(t, q.IsPaused())
	_, err = dequeueWithin(t, q, 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.Resume()
	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", j.ID)
}

func TestDequeue_CloseUnblocks(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue not unblocked by Close")
	}
	_, err := q.Enqueue(context.Background(), payload("x", 0))
	assert.ErrorIs(t, err, ErrClosed)
}

// ─── Fail / retry ──────────────────────────────────────────────────────

func TestFail_RetriesWithExponentialBackoff(t *testing.T) {
	q, clock := newTestQueue(t, testConfig())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)

	for attempt, delay := range []time.Duration{2 * time.Second, 4 * time.Second} {
		j, err := dequeueWithin(t, q, time.Second)
		require.NoError(t, err)
		assert.Equal(t, attempt+1, j.AttemptsMade)

		outcome, err := q.Fail(ctx, j, errors.New("audit timeout"))
		require.NoError(t, err)
		assert.Equal(t, Retried, outcome)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Delayed)

		clock.Advance(delay - time.Millisecond)
		_, err = dequeueWithin(t, q, 20*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "job released before its backoff elapsed")
		clock.Advance(time.Millisecond)
	}

	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, j.AttemptsMade)
	require.NoError(t, q.Ack(ctx, j))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
}

func TestFail_ExhaustedJobDeadLettersExactlyOnce(t *testing.T) {
	q, clock := newTestQueue(t, testConfig())
	ctx := context.Background()

	var mu sync.Mutex
	var dead []string
	q.SetDeadLetterHandler(func(_ context.Context, j *Job, cause error) {
		mu.Lock()
		defer mu.Unlock()
		dead = append(dead, j.ID+":"+cause.Error())
	})

	_, err := q.Enqueue(ctx, model.JobPayload{ScanID: "s1", URL: "https://example.com", MaxAttempts: 2})
	require.NoError(t, err)

	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	outcome, err := q.Fail(ctx, j, errors.New("first"))
	require.NoError(t, err)
	assert.Equal(t, Retried, outcome)

	clock.Advance(2 * time.Second)
	j, err = dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	outcome, err = q.Fail(ctx, j, errors.New("second"))
	require.NoError(t, err)
	assert.Equal(t, DeadLettered, outcome)

	clock.Advance(time.Hour)
	_, err = dequeueWithin(t, q, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "dead job must not be redelivered")

	mu.Lock()
	assert.Equal(t, []string{"s1:second"}, dead)
	mu.Unlock()

	stored, err := q.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateDead, stored.State)
	assert.Equal(t, "second", stored.LastError)
}

func TestFail_PermanentSkipsRetries(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	called := 0
	q.SetDeadLetterHandler(func(context.Context, *Job, error) { called++ })

	_, err := q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	outcome, err := q.Fail(ctx, j, Permanent(errors.New("invalid url")))
	require.NoError(t, err)
	assert.Equal(t, DeadLettered, outcome)
	assert.Equal(t, 1, called)
	assert.Equal(t, 1, j.AttemptsMade)
}

func TestAck_StaleDeliveryIsRejected(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	stale := *j
	stale.Token = "someone-else"
	assert.ErrorIs(t, q.Ack(ctx, &stale), ErrLeaseLost)
	require.NoError(t, q.Ack(ctx, j))
}

// ─── Leases ────────────────────────────────────────────────────────────

func TestReap_ExpiredLeaseIsRedelivered(t *testing.T) {
	q, clock := newTestQueue(t, testConfig())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)

	first, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	clock.Advance(q.LeaseDuration() + time.Second)
	n, err := q.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(2 * time.Second)
	second, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptsMade)
	assert.Equal(t, ErrLeaseExpired.Error(), second.LastError)

	assert.ErrorIs(t, q.Ack(ctx, first), ErrLeaseLost, "crashed worker must not ack the redelivered job")
	require.NoError(t, q.Ack(ctx, second))
}

func TestExtend_KeepsLeaseAlive(t *testing.T) {
	q, clock := newTestQueue(t, testConfig())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, payload("s1", 0))
	require.NoError(t, err)
	j, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	clock.Advance(q.LeaseDuration() - time.Second)
	require.NoError(t, q.Extend(ctx, j))
	clock.Advance(10 * time.Second)

	n, err := q.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, q.Ack(ctx, j))
}

func TestReap_LastAttemptDeadLetters(t *testing.T) {
	q, clock := newTestQueue(t, testConfig())
	ctx := context.Background()
	var causes []error
	q.SetDeadLetterHandler(func(_ context.Context, _ *Job, cause error) { causes = append(causes, cause) })

	_, err := q.Enqueue(ctx, model.JobPayload{ScanID: "s1", URL: "https://example.com", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	clock.Advance(q.LeaseDuration() + time.Second)
	_, err = q.Reap(ctx)
	require.NoError(t, err)
	require.Len(t, causes, 1)
	assert.ErrorIs(t, causes[0], ErrLeaseExpired)
}

func TestRelease_LastAttemptIsNotSpent(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	dead := 0
	q.SetDeadLetterHandler(func(context.Context, *Job, error) { dead++ })

	_, err := q.Enqueue(ctx, model.JobPayload{ScanID: "s1", URL: "https://example.com", MaxAttempts: 1})
	require.NoError(t, err)
	first, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, first))
	assert.Equal(t, StateWaiting, first.State)
	assert.Equal(t, 0, first.AttemptsMade)

	second, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, second.AttemptsMade)
	require.NoError(t, q.Ack(ctx, second))
	assert.Zero(t, dead)
	assert.ErrorIs(t, q.Release(ctx, first), ErrLeaseLost)
}

// ─── Drain / stats ─────────────────────────────────────────────────────

func TestDrain_RemovesWaitingOnly(t *testing.T) {
	q, _ := newTestQueue(t, testConfig())
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, payload(id, 0))
		require.NoError(t, err)
	}
	_, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1}, stats)
}

func TestRetention_TrimsCompleted(t *testing.T) {
	cfg := testConfig()
	cfg.RetainCompleted = 2
	q, _ := newTestQueue(t, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, payload(fmt.Sprintf("s%d", i), 0))
		require.NoError(t, err)
		j, err := dequeueWithin(t, q, time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, j))
	}
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
}

// ─── helpers ───────────────────────────────────────────────────────────

type brokenBackend struct {
	*MemoryBackend
}

func (b *brokenBackend) Insert(context.Context, *Job) error {
	return errors.New("connection refused")
}
