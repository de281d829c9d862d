package fetch

import "sync"

// keyedLocks is a lazily-populated table of one mutex per order id. Locks
// are created on first reference and retained for the process lifetime;
// they are two words each, so the table grows with order cardinality but
// never needs explicit cleanup.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	return l
}
