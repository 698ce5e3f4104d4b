package events

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper guards against processing the same provider delivery twice.
// Claim reports false when id was already claimed and has not expired.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type memoryEntry struct {
	id      string
	expires time.Time
}

// MemoryDeduper is bounded by both ttl and max entries; the oldest claim is
// evicted first when full.
type MemoryDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	order   *list.List
	entries map[string]*list.Element
}

func NewMemoryDeduper(ttl time.Duration, max int) *MemoryDeduper {
	if max <= 0 {
		max = 10000
	}
	return &MemoryDeduper{
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.expire(now)
	if _, ok := d.entries[id]; ok {
		return false, nil
	}
	for d.order.Len() >= d.max {
		d.remove(d.order.Front())
	}
	d.entries[id] = d.order.PushBack(memoryEntry{id: id, expires: now.Add(d.ttl)})
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[id]; ok {
		d.remove(el)
	}
	return nil
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// expire walks from the front; entries are in claim order so ttl order matches.
func (d *MemoryDeduper) expire(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if el.Value.(memoryEntry).expires.After(now) {
			return
		}
		d.remove(el)
	}
}

func (d *MemoryDeduper) remove(el *list.Element) {
	delete(d.entries, el.Value.(memoryEntry).id)
	d.order.Remove(el)
}
