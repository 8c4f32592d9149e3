package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
)

// Store is the pebble-backed durable state surface: balances, order history,
// trade history, hook registrations, and per-market sequence counters.
// Matching-path writes go through a Batch so one top-level operation commits
// as one atomic pebble batch.
type Store struct {
	db *pebble.DB
}

// balanceRecord is the persisted form of one (account, asset) balance.
type balanceRecord struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
}

// hookRecord is the persisted form of one hook registration.
type hookRecord struct {
	Name         string `json:"name"`
	Capabilities uint16 `json:"capabilities"`
}

// Sequences are the per-market monotonic counters.
type Sequences struct {
	NextOrder uint64 `json:"nextOrder"`
	NextTrade uint64 `json:"nextTrade"`
}

// Open opens (or creates) a pebble database at the given path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) set(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, data, pebble.Sync)
}

// SaveBalance persists one balance record.
func (s *Store) SaveBalance(addr common.Address, asset string, bal clob.Balance) error {
	return s.set(balanceKey(addr, asset), balanceRecord{Available: bal.Available, Locked: bal.Locked})
}

// LoadBalance loads one balance record; the zero balance if absent.
func (s *Store) LoadBalance(addr common.Address, asset string) (clob.Balance, error) {
	var rec balanceRecord
	if _, err := s.get(balanceKey(addr, asset), &rec); err != nil {
		return clob.Balance{}, err
	}
	return clob.Balance{Available: rec.Available, Locked: rec.Locked}, nil
}

// ForEachBalance iterates every persisted balance record.
func (s *Store) ForEachBalance(fn func(addr common.Address, asset string, bal clob.Balance) error) error {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		// Key: "bal:{0xAddr}:{asset}"
		rest := string(iter.Key())[len(prefixBalance):]
		sep := strings.IndexByte(rest, ':')
		if sep < 0 || !common.IsHexAddress(rest[:sep]) {
			continue
		}
		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		addr := common.HexToAddress(rest[:sep])
		if err := fn(addr, rest[sep+1:], clob.Balance{Available: rec.Available, Locked: rec.Locked}); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrder persists an order record. Orders are history: they are updated
// in place but never deleted.
func (s *Store) SaveOrder(o *clob.Order) error {
	return s.set(orderKey(o.Symbol, o.ID), o)
}

// LoadOrder loads one order; nil if absent.
func (s *Store) LoadOrder(symbol string, id clob.OrderID) (*clob.Order, error) {
	var o clob.Order
	ok, err := s.get(orderKey(symbol, id), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

// ForEachOrder iterates all orders of a market in id order.
func (s *Store) ForEachOrder(symbol string, fn func(o *clob.Order) error) error {
	prefix := orderPrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o clob.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		if err := fn(&o); err != nil {
			return err
		}
	}
	return nil
}

// RecentTrades loads the newest trades of a market, newest first.
func (s *Store) RecentTrades(symbol string, limit int) ([]*clob.Fill, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*clob.Fill
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var f clob.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			continue
		}
		trades = append(trades, &f)
	}
	return trades, nil
}

// SaveHookRegistration records an installed hook and its capability mask.
func (s *Store) SaveHookRegistration(name string, capabilities uint16) error {
	return s.set(hookKey(name), hookRecord{Name: name, Capabilities: capabilities})
}

// LoadHookRegistrations returns the persisted hook registry surface.
func (s *Store) LoadHookRegistrations() (map[string]uint16, error) {
	prefix := []byte(prefixHook)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]uint16)
	for iter.First(); iter.Valid(); iter.Next() {
		var rec hookRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out[rec.Name] = rec.Capabilities
	}
	return out, nil
}

// LoadSequences loads the per-market counters; zero values if absent.
func (s *Store) LoadSequences(symbol string) (Sequences, error) {
	var seq Sequences
	if _, err := s.get(seqKey(symbol), &seq); err != nil {
		return Sequences{}, err
	}
	return seq, nil
}

// Batch stages writes for one top-level operation and commits them
// atomically.
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates a batch writer.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) set(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.batch.Set(key, data, nil)
}

// SetBalance stages a balance write.
func (b *Batch) SetBalance(addr common.Address, asset string, bal clob.Balance) error {
	return b.set(balanceKey(addr, asset), balanceRecord{Available: bal.Available, Locked: bal.Locked})
}

// SetOrder stages an order write.
func (b *Batch) SetOrder(o *clob.Order) error {
	return b.set(orderKey(o.Symbol, o.ID), o)
}

// SetTrade stages a trade write.
func (b *Batch) SetTrade(f *clob.Fill) error {
	return b.set(tradeKey(f.Symbol, f.Timestamp, f.TradeID), f)
}

// SetSequences stages the per-market counters.
func (b *Batch) SetSequences(symbol string, seq Sequences) error {
	return b.set(seqKey(symbol), seq)
}

// Commit writes the batch atomically.
func (b *Batch) Commit() error { return b.batch.Commit(pebble.Sync) }

// Close discards the batch without committing.
func (b *Batch) Close() error { return b.batch.Close() }
