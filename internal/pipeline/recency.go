package pipeline

import "sync"

// DefaultRecencySize bounds a recency set when no size is configured.
const DefaultRecencySize = 100_000

// RecencySet remembers the fingerprint last published for each identity key.
// It is a size-bounded LRU: the least recently touched key is evicted first.
type RecencySet struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key         string
	fingerprint [32]byte
	prev        *entry
	next        *entry
}

// NewRecencySet creates a recency set holding at most maxEntries keys.
func NewRecencySet(maxEntries int) *RecencySet {
	if maxEntries <= 0 {
		maxEntries = DefaultRecencySize
	}
	return &RecencySet{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Published reports whether key was last published with fingerprint fp.
func (r *RecencySet) Published(key string, fp [32]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	r.moveToFront(e)
	return e.fingerprint == fp
}

// Record stores fp as the published content of key.
func (r *RecencySet) Record(key string, fp [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.fingerprint = fp
		r.moveToFront(e)
		return
	}

	e := &entry{key: key, fingerprint: fp}
	r.entries[key] = e
	r.addToFront(e)

	if len(r.entries) > r.maxEntries {
		r.evictTail()
	}
}

// Len is the number of keys currently held.
func (r *RecencySet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset forgets every key, as a process restart would.
func (r *RecencySet) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.head, r.tail = nil, nil
}

func (r *RecencySet) moveToFront(e *entry) {
	if e == r.head {
		return
	}
	r.remove(e)
	r.addToFront(e)
}

func (r *RecencySet) addToFront(e *entry) {
	e.next = r.head
	e.prev = nil
	if r.head != nil {
		r.head.prev = e
	}
	r.head = e
	if r.tail == nil {
		r.tail = e
	}
}

func (r *RecencySet) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		r.tail = e.prev
	}
}

func (r *RecencySet) evictTail() {
	if r.tail == nil {
		return
	}
	delete(r.entries, r.tail.key)
	r.remove(r.tail)
}
