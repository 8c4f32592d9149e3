package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/storage"
)

// Txn is a copy-on-write view over the ledger for one top-level operation.
// Reads fall through to committed state; writes land in the dirty set. A Txn
// that is never applied has no effect, which is how the engine aborts an
// operation without partial mutation. Every internal transfer is a zero-sum
// move between two (account, asset) pairs, net of fee to the fee sink.
type Txn struct {
	l     *Ledger
	dirty map[balanceKey]clob.Balance
}

func (t *Txn) get(k balanceKey) clob.Balance {
	if bal, ok := t.dirty[k]; ok {
		return bal
	}
	return t.l.Get(k.addr, k.asset)
}

// Balance returns the in-transaction balance for (account, asset).
func (t *Txn) Balance(addr common.Address, asset string) clob.Balance {
	return t.get(balanceKey{addr: addr, asset: asset})
}

// Available returns the in-transaction available leg.
func (t *Txn) Available(addr common.Address, asset string) int64 {
	return t.get(balanceKey{addr: addr, asset: asset}).Available
}

// Lock moves available to locked, reserving funds against an order.
func (t *Txn) Lock(addr common.Address, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: lock amount %d", clob.ErrInvalidQuantity, amount)
	}
	if amount == 0 {
		return nil
	}
	k := balanceKey{addr: addr, asset: asset}
	bal := t.get(k)
	if bal.Available < amount {
		return fmt.Errorf("%w: have %d, need %d", clob.ErrInsufficientAvailable, bal.Available, amount)
	}
	bal.Available -= amount
	bal.Locked += amount
	t.dirty[k] = bal
	return nil
}

// Unlock moves locked back to available, releasing a reservation.
func (t *Txn) Unlock(addr common.Address, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: unlock amount %d", clob.ErrInvalidQuantity, amount)
	}
	if amount == 0 {
		return nil
	}
	k := balanceKey{addr: addr, asset: asset}
	bal := t.get(k)
	if bal.Locked < amount {
		return fmt.Errorf("%w: locked %d, unlock %d", clob.ErrInsufficientLocked, bal.Locked, amount)
	}
	bal.Locked -= amount
	bal.Available += amount
	t.dirty[k] = bal
	return nil
}

// Settle moves amount from the payer's locked leg to the receiver's
// available leg, net of fee credited to the fee sink. The payer's funds must
// have been reserved beforehand.
func (t *Txn) Settle(from, to common.Address, asset string, amount, fee int64, feeSink common.Address) error {
	if amount < 0 || fee < 0 || fee > amount {
		return fmt.Errorf("%w: settle amount=%d fee=%d", clob.ErrInvalidQuantity, amount, fee)
	}
	if amount == 0 {
		return nil
	}
	fk := balanceKey{addr: from, asset: asset}
	fromBal := t.get(fk)
	if fromBal.Locked < amount {
		return fmt.Errorf("%w: locked %d, settle %d", clob.ErrInsufficientLocked, fromBal.Locked, amount)
	}
	fromBal.Locked -= amount
	t.dirty[fk] = fromBal

	tk := balanceKey{addr: to, asset: asset}
	toBal := t.get(tk)
	toBal.Available += amount - fee
	t.dirty[tk] = toBal

	if fee > 0 {
		sk := balanceKey{addr: feeSink, asset: asset}
		sinkBal := t.get(sk)
		sinkBal.Available += fee
		t.dirty[sk] = sinkBal
	}
	return nil
}

// Stage writes the dirty set into a storage batch.
func (t *Txn) Stage(b *storage.Batch) error {
	for k, bal := range t.dirty {
		if err := b.SetBalance(k.addr, k.asset, bal); err != nil {
			return err
		}
	}
	return nil
}

// Apply commits the dirty set to the ledger's in-memory state. Callers
// commit the storage batch first so a storage failure never leaves memory
// ahead of disk.
func (t *Txn) Apply() {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	for k, bal := range t.dirty {
		t.l.balances[k] = bal
	}
}

// Dirty returns the number of touched balance records.
func (t *Txn) Dirty() int { return len(t.dirty) }
