package state

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/core/types"
	"tokensale/crypto"
	"tokensale/storage"
)

var (
	accountPrefix = []byte("account:")
	ownerPrefix   = []byte("idx/owner/")
	kvPrefix      = []byte("kv:")
)

// Manager reads committed account state and the small metadata namespace used
// during bootstrapping. All writes go through an Overlay.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256(accountPrefix, addr[:])
}

// ownerKey is left unhashed so that all accounts of one owner share a prefix.
func ownerKey(owner, addr crypto.Address) []byte {
	buf := make([]byte, 0, len(ownerPrefix)+2*crypto.AddressLength)
	buf = append(buf, ownerPrefix...)
	buf = append(buf, owner[:]...)
	return append(buf, addr[:]...)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(kvPrefix, key)
}

// GetAccount returns the committed account at addr, or nil when absent.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	account.Address = addr
	return account, nil
}

// AccountsByOwner lists every committed account owned by the given program in
// address order.
func (m *Manager) AccountsByOwner(owner crypto.Address) ([]crypto.Address, error) {
	prefix := ownerKey(owner, crypto.ZeroAddress)[:len(ownerPrefix)+crypto.AddressLength]
	var out []crypto.Address
	err := m.db.Iterate(prefix, func(key, _ []byte) error {
		rest := bytes.TrimPrefix(key, prefix)
		addr, err := crypto.BytesToAddress(rest)
		if err != nil {
			return fmt.Errorf("state: corrupt owner index entry: %w", err)
		}
		out = append(out, addr)
		return nil
	})
	return out, err
}

// KVPut stores an RLP-encoded metadata value outside the account namespace.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// NewOverlay opens a write journal on top of the committed state.
func (m *Manager) NewOverlay() *Overlay {
	return &Overlay{
		base:  m,
		dirty: make(map[crypto.Address]*types.Account),
	}
}
