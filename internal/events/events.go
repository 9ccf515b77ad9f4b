// Package events fans scan lifecycle events out to live subscribers such as
// websocket clients. Delivery is best effort: a slow subscriber loses events
// rather than stalling a worker.
package events

import (
	"sync"
	"time"

	"github.com/raysh454/lumen/internal/model"
)

type Type string

const (
	TypeStarted   Type = "started"
	TypeProgress  Type = "progress"
	TypeRetrying  Type = "retrying"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
)

// Terminal reports whether no further events follow for the scan.
func (t Type) Terminal() bool { return t == TypeCompleted || t == TypeFailed }

type Event struct {
	ScanID string       `json:"scanId"`
	Type   Type         `json:"type"`
	Status model.Status `json:"status,omitempty"`

	Attempt  int    `json:"attempt,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Score    *int   `json:"score,omitempty"`
	Error    string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// Subscription receives events until Close is called or the bus shuts down.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	ch     chan Event
	scanID string
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s) })
}

// Bus is an in-process publish/subscribe hub keyed by scan id.
type Bus struct {
	mu     sync.Mutex
	byScan map[string]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
	closed bool

	dropped int
}

func NewBus() *Bus {
	return &Bus{
		byScan: make(map[string]map[*Subscription]struct{}),
		all:    make(map[*Subscription]struct{}),
	}
}

// Subscribe returns a subscription for one scan. buf sizes the channel.
func (b *Bus) Subscribe(scanID string, buf int) *Subscription {
	return b.add(scanID, buf)
}

// SubscribeAll returns a subscription that sees every event.
func (b *Bus) SubscribeAll(buf int) *Subscription {
	return b.add("", buf)
}

func (b *Bus) add(scanID string, buf int) *Subscription {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	sub := &Subscription{C: ch, bus: b, ch: ch, scanID: scanID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	if scanID == "" {
		b.all[sub] = struct{}{}
		return sub
	}
	set := b.byScan[scanID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.byScan[scanID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.scanID == "" {
		if _, ok := b.all[sub]; !ok {
			return
		}
		delete(b.all, sub)
	} else {
		set := b.byScan[sub.scanID]
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(b.byScan, sub.scanID)
		}
	}
	close(sub.ch)
}

// Publish delivers ev to matching subscribers without blocking. A zero At is
// stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.byScan[ev.ScanID] {
		b.send(sub, ev)
	}
	for sub := range b.all {
		b.send(sub, ev)
	}
}

func (b *Bus) send(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		b.dropped++
	}
}

// Dropped returns how many events were discarded for full subscribers.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscribers returns the number of live subscriptions for scanID.
func (b *Bus) Subscribers(scanID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byScan[scanID])
}

// Close ends every subscription. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.byScan {
		for sub := range set {
			close(sub.ch)
		}
	}
	for sub := range b.all {
		close(sub.ch)
	}
	b.byScan = map[string]map[*Subscription]struct{}{}
	b.all = map[*Subscription]struct{}{}
}
