package cache

import (
	"container/list"
	"sync"
	"time"
)

// memoryTier is an in-process LRU with per-entry TTL — the first tier the
// Manager probes since it never leaves the process.
type memoryTier struct {
	maxItems int
	ttl      time.Duration

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element

	// inflight coalesces concurrent misses on the same key into one fill
	// call, the way a singleflight.Group would, so a thundering herd of
	// identical requests only calls the provider once.
	inflight map[string]*inflightCall
}

type memoryRecord struct {
	key       string
	value     entry
	expiresAt time.Time
}

type inflightCall struct {
	done chan struct{}
	val  entry
	err  error
}

func newMemoryTier(maxItems int, ttl time.Duration) *memoryTier {
	if maxItems <= 0 {
		maxItems = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memoryTier{
		maxItems: maxItems,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		inflight: make(map[string]*inflightCall),
	}
}

// get returns the cached entry for key, evicting it first if it has expired.
func (m *memoryTier) get(key Key) (entry, bool) {
	k := key.String()
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[k]
	if !ok {
		return entry{}, false
	}
	rec := el.Value.(*memoryRecord)
	if time.Now().After(rec.expiresAt) {
		m.removeLocked(el)
		return entry{}, false
	}
	m.ll.MoveToFront(el)
	return rec.value, true
}

// set inserts or refreshes key's entry, evicting the least-recently-used
// record if the tier is at capacity.
func (m *memoryTier) set(key Key, val entry) {
	k := key.String()
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[k]; ok {
		rec := el.Value.(*memoryRecord)
		rec.value = val
		rec.expiresAt = time.Now().Add(m.ttl)
		m.ll.MoveToFront(el)
		return
	}

	rec := &memoryRecord{key: k, value: val, expiresAt: time.Now().Add(m.ttl)}
	el := m.ll.PushFront(rec)
	m.items[k] = el

	for m.ll.Len() > m.maxItems {
		m.removeLocked(m.ll.Back())
	}
}

func (m *memoryTier) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	rec := el.Value.(*memoryRecord)
	delete(m.items, rec.key)
	m.ll.Remove(el)
}

// fill fetches key via compute if no other call is already doing so,
// returning the already-in-flight result to any caller that arrives while
// a fill is running — the at-most-once-concurrent-compute coalescing spec
// §4.8 requires so a cache-stampede doesn't fan out N identical upstream
// calls for one miss.
func (m *memoryTier) fill(key Key, compute func() (entry, error)) (entry, error) {
	k := key.String()

	m.mu.Lock()
	if call, ok := m.inflight[k]; ok {
		m.mu.Unlock()
		<-call.done
		return call.val, call.err
	}
	call := &inflightCall{done: make(chan struct{})}
	m.inflight[k] = call
	m.mu.Unlock()

	val, err := compute()
	call.val, call.err = val, err
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, k)
	m.mu.Unlock()

	if err == nil {
		m.set(key, val)
	}
	return val, err
}

func (m *memoryTier) delete(key Key) {
	k := key.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[k]; ok {
		m.removeLocked(el)
	}
}

func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}
