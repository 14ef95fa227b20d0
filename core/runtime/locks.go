package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"tokensale/crypto"
)

// lockTable hands out exclusive per-account locks. Entries are reference
// counted so the table only holds accounts somebody is using or waiting on.
type lockTable struct {
	mu    sync.Mutex
	locks map[crypto.Address]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[crypto.Address]*lockEntry)}
}

func (t *lockTable) ref(addr crypto.Address) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.locks[addr]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		t.locks[addr] = entry
	}
	entry.refs++
	return entry
}

func (t *lockTable) unref(addr crypto.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.locks[addr]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(t.locks, addr)
	}
}

// acquire locks addrs in the given order, which callers keep sorted so that
// overlapping invocations cannot deadlock. On failure nothing stays locked.
func (t *lockTable) acquire(ctx context.Context, addrs []crypto.Address) (func(), error) {
	held := make([]*lockEntry, 0, len(addrs))
	heldAddrs := make([]crypto.Address, 0, len(addrs))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(1)
			t.unref(heldAddrs[i])
		}
	}
	for _, addr := range addrs {
		entry := t.ref(addr)
		if err := entry.sem.Acquire(ctx, 1); err != nil {
			t.unref(addr)
			release()
			return nil, err
		}
		held = append(held, entry)
		heldAddrs = append(heldAddrs, addr)
	}
	return release, nil
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
