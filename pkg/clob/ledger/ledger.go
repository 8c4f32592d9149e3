// Package ledger implements the virtual vault: per-account, per-asset
// balances with available and locked legs. It is the only component that
// mutates economic state. Matching-path mutations go through a Txn, a
// copy-on-write view committed atomically at the end of a successful
// operation and discarded on any failure.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
	"github.com/meridian-dex/meridian/pkg/storage"
)

type balanceKey struct {
	addr  common.Address
	asset string
}

// Ledger holds the committed balance state with an in-memory cache over
// pebble persistence. Balance records are never deleted, only zeroed.
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]clob.Balance
	store    *storage.Store // nil for in-memory ledgers (tests)
}

// New creates a ledger. A nil store keeps the ledger purely in memory.
func New(store *storage.Store) *Ledger {
	return &Ledger{
		balances: make(map[balanceKey]clob.Balance),
		store:    store,
	}
}

// Load warms the cache from the store.
func (l *Ledger) Load() error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.ForEachBalance(func(addr common.Address, asset string, bal clob.Balance) error {
		l.balances[balanceKey{addr: addr, asset: asset}] = bal
		return nil
	})
}

// Get returns the committed balance for (account, asset).
func (l *Ledger) Get(addr common.Address, asset string) clob.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{addr: addr, asset: asset}]
}

// Deposit credits available balance. Only the deposit/withdraw boundary may
// create or destroy vault value.
func (l *Ledger) Deposit(addr common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount %d", clob.ErrInvalidQuantity, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{addr: addr, asset: asset}
	bal := l.balances[k]
	bal.Available += amount
	l.balances[k] = bal
	return l.persist(addr, asset, bal)
}

// Withdraw debits available balance.
func (l *Ledger) Withdraw(addr common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw amount %d", clob.ErrInvalidQuantity, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{addr: addr, asset: asset}
	bal := l.balances[k]
	if bal.Available < amount {
		return fmt.Errorf("%w: have %d, need %d (locked %d)",
			clob.ErrInsufficientAvailable, bal.Available, amount, bal.Locked)
	}
	bal.Available -= amount
	l.balances[k] = bal
	return l.persist(addr, asset, bal)
}

// TotalLocked sums the locked leg across all accounts for one asset.
func (l *Ledger) TotalLocked(asset string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := int64(0)
	for k, bal := range l.balances {
		if k.asset == asset {
			total += bal.Locked
		}
	}
	return total
}

// TotalSupply sums available + locked across all accounts for one asset.
func (l *Ledger) TotalSupply(asset string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := int64(0)
	for k, bal := range l.balances {
		if k.asset == asset {
			total += bal.Total()
		}
	}
	return total
}

func (l *Ledger) persist(addr common.Address, asset string, bal clob.Balance) error {
	if l.store == nil {
		return nil
	}
	return l.store.SaveBalance(addr, asset, bal)
}

// Begin opens a transaction view over the committed state.
func (l *Ledger) Begin() *Txn {
	return &Txn{l: l, dirty: make(map[balanceKey]clob.Balance)}
}
