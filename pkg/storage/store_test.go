package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meridian-dex/meridian/pkg/clob"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := clob.Balance{Available: 100, Locked: 40}
	if err := s.SaveBalance(alice, "USDC", want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadBalance(alice, "USDC")
	if err != nil || got != want {
		t.Errorf("load: got %+v err=%v", got, err)
	}

	// Absent record reads as zero balance.
	got, err = s.LoadBalance(bob, "USDC")
	if err != nil || !got.IsZero() {
		t.Errorf("absent balance: got %+v err=%v", got, err)
	}
}

func TestForEachBalanceParsesKeys(t *testing.T) {
	s := newTestStore(t)
	s.SaveBalance(alice, "USDC", clob.Balance{Available: 1})
	s.SaveBalance(alice, "MERA", clob.Balance{Available: 2})
	s.SaveBalance(bob, "USDC", clob.Balance{Available: 3})

	seen := map[string]int64{}
	err := s.ForEachBalance(func(addr common.Address, asset string, bal clob.Balance) error {
		seen[addr.Hex()+":"+asset] = bal.Available
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("records: got %d, want 3", len(seen))
	}
	if seen[alice.Hex()+":MERA"] != 2 || seen[bob.Hex()+":USDC"] != 3 {
		t.Errorf("parsed records: %v", seen)
	}
}

func TestOrderRoundTripAndIterationOrder(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []uint64{3, 1, 2} {
		o := &clob.Order{
			ID:        clob.OrderID(id),
			Owner:     alice,
			Symbol:    "MERA-USDC",
			Side:      clob.Buy,
			Price:     2000,
			Qty:       5,
			Remaining: 5,
			Seq:       id,
		}
		if err := s.SaveOrder(o); err != nil {
			t.Fatalf("save order %d: %v", id, err)
		}
	}

	var ids []clob.OrderID
	err := s.ForEachOrder("MERA-USDC", func(o *clob.Order) error {
		ids = append(ids, o.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	// Zero-padded keys iterate in id order regardless of insertion order.
	want := []clob.OrderID{1, 2, 3}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("ids[%d]: got %d, want %d", i, ids[i], id)
		}
	}

	o, err := s.LoadOrder("MERA-USDC", 2)
	if err != nil || o == nil || o.ID != 2 {
		t.Errorf("load order: %+v err=%v", o, err)
	}
	if o, _ := s.LoadOrder("MERA-USDC", 99); o != nil {
		t.Errorf("absent order: got %+v", o)
	}
	if o, _ := s.LoadOrder("OTHER", 2); o != nil {
		t.Errorf("wrong market: got %+v", o)
	}
}

func TestRecentTradesNewestFirst(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	for i := uint64(1); i <= 5; i++ {
		f := &clob.Fill{
			TradeID:   i,
			Symbol:    "MERA-USDC",
			Price:     2000 + int64(i),
			Qty:       1,
			Timestamp: 1000 + int64(i),
		}
		if err := b.SetTrade(f); err != nil {
			t.Fatalf("stage trade: %v", err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b.Close()

	trades, err := s.RecentTrades("MERA-USDC", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	for i, wantID := range []uint64{5, 4, 3} {
		if trades[i].TradeID != wantID {
			t.Errorf("trades[%d]: got id %d, want %d", i, trades[i].TradeID, wantID)
		}
	}
}

func TestSequencesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	seq, err := s.LoadSequences("MERA-USDC")
	if err != nil || seq.NextOrder != 0 || seq.NextTrade != 0 {
		t.Errorf("absent sequences: %+v err=%v", seq, err)
	}

	b := s.NewBatch()
	b.SetSequences("MERA-USDC", Sequences{NextOrder: 7, NextTrade: 3})
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b.Close()

	seq, err = s.LoadSequences("MERA-USDC")
	if err != nil || seq.NextOrder != 7 || seq.NextTrade != 3 {
		t.Errorf("sequences: %+v err=%v", seq, err)
	}
}

func TestHookRegistrations(t *testing.T) {
	s := newTestStore(t)
	s.SaveHookRegistration("dynamic-fee", 0b110)
	s.SaveHookRegistration("volume-tracker", 0b1000000)

	hooks, err := s.LoadHookRegistrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(hooks) != 2 || hooks["dynamic-fee"] != 0b110 {
		t.Errorf("registrations: %v", hooks)
	}
}

func TestBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	b.SetBalance(alice, "USDC", clob.Balance{Available: 50})
	// Discarded without commit.
	b.Close()

	bal, err := s.LoadBalance(alice, "USDC")
	if err != nil || !bal.IsZero() {
		t.Errorf("discarded batch leaked: %+v err=%v", bal, err)
	}
}
