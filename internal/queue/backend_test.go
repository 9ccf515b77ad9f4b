package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/lumen/internal/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlb, err := OpenSQLBackend(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlb.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlb,
	}
}

func newJob(id string, priority int, at time.Time) *Job {
	return &Job{
		ID:          id,
		Payload:     model.JobPayload{ScanID: id, URL: "https://example.com/" + id, Priority: priority, MaxAttempts: 3},
		Priority:    priority,
		State:       StateWaiting,
		MaxAttempts: 3,
		NextRunAt:   at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// ─── Insert / Claim ────────────────────────────────────────────────────

func TestBackend_ClaimOrdersByPriorityThenFIFO(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("low-1", 0, epoch)))
			require.NoError(t, b.Insert(ctx, newJob("high-1", 5, epoch)))
			require.NoError(t, b.Insert(ctx, newJob("low-2", 0, epoch)))
			require.NoError(t, b.Insert(ctx, newJob("high-2", 5, epoch)))

			var order []string
			for i := 0; i < 4; i++ {
				j, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "tok")
				require.NoError(t, err)
				require.NotNil(t, j)
				order = append(order, j.ID)
				assert.Equal(t, StateActive, j.State)
				assert.Equal(t, 1, j.AttemptsMade)
			}
			assert.Equal(t, []string{"high-1", "high-2", "low-1", "low-2"}, order)

			j, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "tok")
			require.NoError(t, err)
			assert.Nil(t, j)
		})
	}
}

func TestBackend_DuplicateWhileWaitingOrActive(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("s1", 0, epoch)))
			assert.ErrorIs(t, b.Insert(ctx, newJob("s1", 0, epoch)), ErrDuplicate)

			j, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "tok")
			require.NoError(t, err)
			require.NotNil(t, j)
			assert.ErrorIs(t, b.Insert(ctx, newJob("s1", 0, epoch)), ErrDuplicate)

			c, err := b.Counts(ctx, epoch)
			require.NoError(t, err)
			assert.Equal(t, 1, c.Active)
			assert.Equal(t, 0, c.Ready)
		})
	}
}

func TestBackend_ReinsertAfterDead(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("s1", 0, epoch)))
			j, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "tok")
			require.NoError(t, err)
			require.NoError(t, b.Bury(ctx, j.ID, "tok", "boom", epoch))

			require.NoError(t, b.Insert(ctx, newJob("s1", 0, epoch.Add(time.Second))))
			got, err := b.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StateWaiting, got.State)
			assert.Equal(t, 0, got.AttemptsMade)
			assert.Empty(t, got.LastError)
		})
	}
}

func TestBackend_NotReadyBeforeNextRunAt(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("later", 0, epoch.Add(10*time.Second))))

			j, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "tok")
			require.NoError(t, err)
			assert.Nil(t, j)

			next, ok, err := b.NextReadyAt(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, next.Equal(epoch.Add(10*time.Second)))

			c, err := b.Counts(ctx, epoch)
			require.NoError(t, err)
			assert.Equal(t, 1, c.Delayed)

			j, err = b.Claim(ctx, epoch.Add(10*time.Second), epoch.Add(time.Minute), "tok")
			require.NoError(t, err)
			require.NotNil(t, j)
			assert.Equal(t, "later", j.ID)
		})
	}
}

// ─── Token guard ───────────────────────────────────────────────────────

func TestBackend_StaleTokenIsRejected(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("s1", 0, epoch)))
			_, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "first")
			require.NoError(t, err)

			assert.ErrorIs(t, b.Complete(ctx, "s1", "other", epoch), ErrLeaseLost)
			assert.ErrorIs(t, b.Extend(ctx, "s1", "other", epoch.Add(time.Hour)), ErrLeaseLost)
			assert.ErrorIs(t, b.Retry(ctx, "s1", "other", "x", epoch, epoch), ErrLeaseLost)

			require.NoError(t, b.Retry(ctx, "s1", "first", "timeout", epoch.Add(2*time.Second), epoch))
			assert.ErrorIs(t, b.Complete(ctx, "s1", "first", epoch), ErrLeaseLost)

			j, err := b.Claim(ctx, epoch.Add(2*time.Second), epoch.Add(time.Minute), "second")
			require.NoError(t, err)
			require.NotNil(t, j)
			assert.Equal(t, 2, j.AttemptsMade)
			assert.Equal(t, "timeout", j.LastError)
			require.NoError(t, b.Complete(ctx, "s1", "second", epoch.Add(3*time.Second)))
		})
	}
}

func TestBackend_ExpiredLeases(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("a", 0, epoch)))
			require.NoError(t, b.Insert(ctx, newJob("b", 0, epoch)))
			_, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "ta")
			require.NoError(t, err)
			_, err = b.Claim(ctx, epoch, epoch.Add(5*time.Minute), "tb")
			require.NoError(t, err)

			exp, err := b.Expired(ctx, epoch.Add(2*time.Minute))
			require.NoError(t, err)
			require.Len(t, exp, 1)
			assert.Equal(t, "a", exp[0].ID)
			assert.Equal(t, "ta", exp[0].Token)

			require.NoError(t, b.Extend(ctx, "a", "ta", epoch.Add(10*time.Minute)))
			exp, err = b.Expired(ctx, epoch.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Empty(t, exp)
		})
	}
}

func TestBackend_ReleaseGivesBackTheAttempt(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("s1", 0, epoch)))
			_, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "first")
			require.NoError(t, err)

			assert.ErrorIs(t, b.Release(ctx, "s1", "other", epoch), ErrLeaseLost)
			require.NoError(t, b.Release(ctx, "s1", "first", epoch.Add(time.Second)))
			assert.ErrorIs(t, b.Complete(ctx, "s1", "first", epoch), ErrLeaseLost)

			got, err := b.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StateWaiting, got.State)
			assert.Equal(t, 0, got.AttemptsMade)
			assert.Empty(t, got.Token)

			j, err := b.Claim(ctx, epoch.Add(time.Second), epoch.Add(time.Minute), "second")
			require.NoError(t, err)
			require.NotNil(t, j)
			assert.Equal(t, 1, j.AttemptsMade)
		})
	}
}

// ─── Retention / drain ─────────────────────────────────────────────────

func TestBackend_TrimKeepsNewest(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, id := range []string{"j1", "j2", "j3", "j4"} {
				at := epoch.Add(time.Duration(i) * time.Second)
				require.NoError(t, b.Insert(ctx, newJob(id, 0, at)))
				j, err := b.Claim(ctx, at, at.Add(time.Minute), "t")
				require.NoError(t, err)
				require.NoError(t, b.Complete(ctx, j.ID, "t", at))
			}
			require.NoError(t, b.Trim(ctx, StateCompleted, 2))

			_, err := b.Get(ctx, "j1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = b.Get(ctx, "j4")
			assert.NoError(t, err)
			c, err := b.Counts(ctx, epoch)
			require.NoError(t, err)
			assert.Equal(t, 2, c.Completed)
		})
	}
}

func TestBackend_PurgeWaiting(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Insert(ctx, newJob("a", 0, epoch)))
			require.NoError(t, b.Insert(ctx, newJob("b", 0, epoch.Add(time.Hour))))
			require.NoError(t, b.Insert(ctx, newJob("c", 0, epoch)))
			_, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "t")
			require.NoError(t, err)

			n, err := b.PurgeWaiting(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			c, err := b.Counts(ctx, epoch)
			require.NoError(t, err)
			assert.Equal(t, Counts{Active: 1}, c)
		})
	}
}

func TestSQLBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.db")
	ctx := context.Background()

	b, err := OpenSQLBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.Insert(ctx, newJob("s1", 0, epoch)))
	j, err := b.Claim(ctx, epoch, epoch.Add(time.Minute), "t")
	require.NoError(t, err)
	require.NoError(t, b.Retry(ctx, j.ID, "t", "boom", epoch.Add(4*time.Second), epoch))
	require.NoError(t, b.Close())

	b, err = OpenSQLBackend(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Equal(t, "boom", got.LastError)
	assert.True(t, got.NextRunAt.Equal(epoch.Add(4*time.Second)))
	assert.Equal(t, "https://example.com/s1", got.Payload.URL)
}
