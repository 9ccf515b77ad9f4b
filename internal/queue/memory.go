package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps jobs in a map. Jobs do not survive a restart.
type MemoryBackend struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{jobs: make(map[string]*Job)}
}

func (m *MemoryBackend) Insert(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.jobs[job.ID]; ok && (cur.State == StateWaiting || cur.State == StateActive) {
		return ErrDuplicate
	}
	m.seq++
	j := job.clone()
	j.Seq = m.seq
	j.State = StateWaiting
	j.AttemptsMade = 0
	j.Token = ""
	j.LeaseUntil = time.Time{}
	j.LastError = ""
	m.jobs[j.ID] = j
	job.Seq = j.Seq
	return nil
}

func (m *MemoryBackend) Claim(_ context.Context, now, leaseUntil time.Time, token string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Job
	for _, j := range m.jobs {
		if j.State != StateWaiting || j.NextRunAt.After(now) {
			continue
		}
		if best == nil || j.Priority > best.Priority || (j.Priority == best.Priority && j.Seq < best.Seq) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.State = StateActive
	best.AttemptsMade++
	best.LeaseUntil = leaseUntil
	best.Token = token
	best.UpdatedAt = now
	return best.clone(), nil
}

func (m *MemoryBackend) NextReadyAt(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next time.Time
	found := false
	for _, j := range m.jobs {
		if j.State != StateWaiting {
			continue
		}
		if !found || j.NextRunAt.Before(next) {
			next = j.NextRunAt
			found = true
		}
	}
	return next, found, nil
}

func (m *MemoryBackend) owned(id, token string) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok || j.State != StateActive || j.Token != token {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (m *MemoryBackend) Complete(_ context.Context, id, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.State = StateCompleted
	j.Token = ""
	j.LeaseUntil = time.Time{}
	j.UpdatedAt = now
	return nil
}

func (m *MemoryBackend) Retry(_ context.Context, id, token, lastErr string, runAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.State = StateWaiting
	j.Token = ""
	j.LeaseUntil = time.Time{}
	j.NextRunAt = runAt
	j.LastError = lastErr
	j.UpdatedAt = now
	return nil
}

func (m *MemoryBackend) Bury(_ context.Context, id, token, lastErr string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.State = StateDead
	j.Token = ""
	j.LeaseUntil = time.Time{}
	j.LastError = lastErr
	j.UpdatedAt = now
	return nil
}

func (m *MemoryBackend) Release(_ context.Context, id, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.State = StateWaiting
	j.Token = ""
	j.LeaseUntil = time.Time{}
	j.NextRunAt = now
	if j.AttemptsMade > 0 {
		j.AttemptsMade--
	}
	j.UpdatedAt = now
	return nil
}

func (m *MemoryBackend) Extend(_ context.Context, id, token string, leaseUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.owned(id, token)
	if err != nil {
		return err
	}
	j.LeaseUntil = leaseUntil
	return nil
}

func (m *MemoryBackend) Expired(_ context.Context, now time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, j := range m.jobs {
		if j.State == StateActive && j.LeaseUntil.Before(now) {
			out = append(out, j.clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func (m *MemoryBackend) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.clone(), nil
}

func (m *MemoryBackend) Counts(_ context.Context, now time.Time) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, j := range m.jobs {
		switch j.State {
		case StateWaiting:
			if j.NextRunAt.After(now) {
				c.Delayed++
			} else {
				c.Ready++
			}
		case StateActive:
			c.Active++
		case StateCompleted:
			c.Completed++
		case StateDead:
			c.Dead++
		}
	}
	return c, nil
}

func (m *MemoryBackend) Trim(_ context.Context, state State, keep int) error {
	if keep < 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Job
	for _, j := range m.jobs {
		if j.State == state {
			matched = append(matched, j)
		}
	}
	if len(matched) <= keep {
		return nil
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].UpdatedAt.Equal(matched[b].UpdatedAt) {
			return matched[a].UpdatedAt.After(matched[b].UpdatedAt)
		}
		return matched[a].Seq > matched[b].Seq
	})
	for _, j := range matched[keep:] {
		delete(m.jobs, j.ID)
	}
	return nil
}

func (m *MemoryBackend) PurgeWaiting(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.State == StateWaiting {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
