package tx

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/storage"
)

var replayPrefix = []byte("replay:")

func replayKey(digest [32]byte) []byte {
	key := make([]byte, 0, len(replayPrefix)+len(digest))
	key = append(key, replayPrefix...)
	return append(key, digest[:]...)
}

// ReplayGuard remembers envelope digests until they expire. A guard backed
// by a database keeps rejecting digests across restarts.
type ReplayGuard struct {
	mu   sync.Mutex
	seen map[[32]byte]time.Time
	db   storage.Database
}

// NewReplayGuard creates an empty in-memory guard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[[32]byte]time.Time)}
}

// NewPersistentReplayGuard loads the unexpired digests stored in db and
// deletes the rest. Later observations are written through to db.
func NewPersistentReplayGuard(db storage.Database, now time.Time) (*ReplayGuard, error) {
	if db == nil {
		return nil, fmt.Errorf("tx: replay guard needs a database")
	}
	g := &ReplayGuard{seen: make(map[[32]byte]time.Time), db: db}
	batch := db.NewBatch()
	err := db.Iterate(replayPrefix, func(key, value []byte) error {
		rest := bytes.TrimPrefix(key, replayPrefix)
		if len(rest) != 32 {
			return nil
		}
		var digest [32]byte
		copy(digest[:], rest)
		var expires uint64
		if err := rlp.DecodeBytes(value, &expires); err != nil {
			return fmt.Errorf("tx: decode replay digest %x: %w", digest, err)
		}
		expiresAt := time.Unix(0, int64(expires))
		if !now.Before(expiresAt) {
			batch.Delete(append([]byte(nil), key...))
			return nil
		}
		g.seen[digest] = expiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Observe records digest, failing with ErrReplay if it is already known and
// unexpired. Expired digests are pruned on the way.
func (g *ReplayGuard) Observe(digest [32]byte, expiresAt, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var expired [][32]byte
	for d, exp := range g.seen {
		if !now.Before(exp) {
			expired = append(expired, d)
		}
	}
	if exp, ok := g.seen[digest]; ok && now.Before(exp) {
		return ErrReplay
	}
	if g.db != nil {
		batch := g.db.NewBatch()
		for _, d := range expired {
			batch.Delete(replayKey(d))
		}
		encoded, err := rlp.EncodeToBytes(uint64(expiresAt.UnixNano()))
		if err != nil {
			return err
		}
		batch.Put(replayKey(digest), encoded)
		if err := batch.Write(); err != nil {
			return fmt.Errorf("tx: persist replay digest: %w", err)
		}
	}
	for _, d := range expired {
		delete(g.seen, d)
	}
	g.seen[digest] = expiresAt
	return nil
}

// Len returns the number of remembered digests.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
