package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/core/types"
	"tokensale/crypto"
)

// Overlay journals account writes for a single invocation. Nothing reaches
// the database until Commit, and Commit applies the whole journal in one
// batch. Dropping an Overlay discards it.
type Overlay struct {
	base  *Manager
	dirty map[crypto.Address]*types.Account // nil marks a deletion
	order []crypto.Address
}

// GetAccount returns the journaled view of addr, or nil when absent or
// deleted. The result is a copy.
func (o *Overlay) GetAccount(addr crypto.Address) (*types.Account, error) {
	if account, ok := o.dirty[addr]; ok {
		return account.Clone(), nil
	}
	return o.base.GetAccount(addr)
}

// PutAccount journals a write of account at addr.
func (o *Overlay) PutAccount(addr crypto.Address, account *types.Account) {
	if account == nil {
		o.DeleteAccount(addr)
		return
	}
	stored := account.Clone()
	stored.Address = addr
	o.track(addr)
	o.dirty[addr] = stored
}

// DeleteAccount journals the removal of addr.
func (o *Overlay) DeleteAccount(addr crypto.Address) {
	o.track(addr)
	o.dirty[addr] = nil
}

func (o *Overlay) track(addr crypto.Address) {
	if _, seen := o.dirty[addr]; !seen {
		o.order = append(o.order, addr)
	}
}

// Commit writes the journal atomically and keeps the owner index in step.
func (o *Overlay) Commit() error {
	if len(o.order) == 0 {
		return nil
	}
	batch := o.base.db.NewBatch()
	for _, addr := range o.order {
		previous, err := o.base.GetAccount(addr)
		if err != nil {
			return err
		}
		next := o.dirty[addr]
		if previous != nil && (next == nil || next.Owner != previous.Owner) {
			batch.Delete(ownerKey(previous.Owner, addr))
		}
		if next == nil {
			batch.Delete(accountKey(addr))
			continue
		}
		encoded, err := rlp.EncodeToBytes(next)
		if err != nil {
			return fmt.Errorf("state: encode account %s: %w", addr, err)
		}
		batch.Put(accountKey(addr), encoded)
		batch.Put(ownerKey(next.Owner, addr), []byte{})
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	o.dirty = make(map[crypto.Address]*types.Account)
	o.order = nil
	return nil
}
