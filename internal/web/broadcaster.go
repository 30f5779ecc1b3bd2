package web

import (
	"context"
	"sync"
	"time"
)

// Broadcaster fans status snapshots out to WebSocket listeners. It keeps the
// most recent value so new subscribers get an immediate sample. Slow
// subscribers miss samples rather than block the publisher.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan StatusSnapshot
	nextID   int
	last     StatusSnapshot
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan StatusSnapshot)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan StatusSnapshot) {
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan StatusSnapshot, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		ch <- last
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Publish(snap StatusSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last, b.haveLast = snap, true
	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Run publishes status every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context, status *Status, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			b.Publish(status.Snapshot(now))
		}
	}
}
