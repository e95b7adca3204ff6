package githubdata

import "sync"

// keyedLocks serializes work per pull request during a resolution pass.
//
// Two-level locking: the outer mutex protects the map, each key gets its
// own mutex. Distinct pull requests proceed concurrently while fetches for
// the same one serialize, so the snapshot cache is filled once per PR and
// upstream rate limits are respected.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the lock for key is held and returns the release
// function, for use as: defer locks.acquire(key)()
func (k *keyedLocks) acquire(key string) func() {
	k.mu.Lock()
	lock, exists := k.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
