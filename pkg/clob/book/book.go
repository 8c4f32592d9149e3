package book

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/meridian-dex/meridian/pkg/clob"
)

// LevelView is an aggregate snapshot of one price level.
type LevelView struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// level holds the FIFO queue of resting orders at one price. TotalQty is
// kept equal to the sum of remaining quantities of the queued orders.
type level struct {
	price    int64
	totalQty int64
	queue    []*clob.Order
}

type indexEntry struct {
	side  clob.Side
	price int64
}

// Book is the order store: two independent price-ordered indices, bids
// highest-first and asks lowest-first. Best-price lookup is O(1) via the
// heaps; insert and remove-by-price are O(log L) in the number of distinct
// levels; FIFO push/pop is O(1) amortized. Levels are created lazily on
// first insert at a price and destroyed on last removal.
type Book struct {
	mu sync.RWMutex

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	bids map[int64]*level
	asks map[int64]*level

	// Order index for O(1) cancellation lookup.
	index map[clob.OrderID]indexEntry
}

// New creates an empty book.
func New() *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64]*level),
		asks:    make(map[int64]*level),
		index:   make(map[clob.OrderID]indexEntry),
	}
}

func (b *Book) sideMap(s clob.Side) map[int64]*level {
	if s == clob.Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to the back of its price level's queue.
// Callers insert in creation-sequence order, which keeps the queue FIFO.
func (b *Book) Insert(o *clob.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.sideMap(o.Side)
	lv, ok := m[o.Price]
	if !ok {
		lv = &level{price: o.Price}
		m[o.Price] = lv
		if o.Side == clob.Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}
	lv.queue = append(lv.queue, o)
	lv.totalQty += o.Remaining
	b.index[o.ID] = indexEntry{side: o.Side, price: o.Price}
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// BestPrice returns the best price on the given side.
func (b *Book) BestPrice(s clob.Side) (int64, bool) {
	if s == clob.Buy {
		return b.BestBid()
	}
	return b.BestAsk()
}

// PeekBest returns the front order of the best level on the given side
// without removing it.
func (b *Book) PeekBest(s clob.Side) *clob.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var price int64
	if s == clob.Buy {
		if b.bidHeap.Len() == 0 {
			return nil
		}
		price = b.bidHeap.Peek()
	} else {
		if b.askHeap.Len() == 0 {
			return nil
		}
		price = b.askHeap.Peek()
	}
	lv := b.sideMap(s)[price]
	if lv == nil || len(lv.queue) == 0 {
		return nil
	}
	return lv.queue[0]
}

// RemoveBest pops the front order of the best level on the given side.
func (b *Book) RemoveBest(s clob.Side) *clob.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var price int64
	if s == clob.Buy {
		if b.bidHeap.Len() == 0 {
			return nil
		}
		price = b.bidHeap.Peek()
	} else {
		if b.askHeap.Len() == 0 {
			return nil
		}
		price = b.askHeap.Peek()
	}

	m := b.sideMap(s)
	lv := m[price]
	if lv == nil || len(lv.queue) == 0 {
		return nil
	}
	o := lv.queue[0]
	lv.queue = lv.queue[1:]
	lv.totalQty -= o.Remaining
	delete(b.index, o.ID)
	if len(lv.queue) == 0 {
		delete(m, price)
		b.removeFromHeap(s, price)
	}
	return o
}

// Remove cancels a resting order by id, preserving the relative order of the
// remaining queue members.
func (b *Book) Remove(id clob.OrderID) (*clob.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.index[id]
	if !ok {
		return nil, false
	}
	m := b.sideMap(entry.side)
	lv := m[entry.price]
	if lv == nil {
		return nil, false
	}
	for i, o := range lv.queue {
		if o.ID == id {
			lv.queue = append(lv.queue[:i], lv.queue[i+1:]...)
			lv.totalQty -= o.Remaining
			delete(b.index, id)
			if len(lv.queue) == 0 {
				delete(m, entry.price)
				b.removeFromHeap(entry.side, entry.price)
			}
			return o, true
		}
	}
	return nil, false
}

// Reduce decrements a resting order's remaining quantity after a fill. A
// fully consumed order is removed from the book; a partially consumed one
// keeps its place at the front for the quantity still owed. Reports whether
// the order was removed.
func (b *Book) Reduce(id clob.OrderID, qty int64) (removed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.index[id]
	if !ok {
		return false
	}
	m := b.sideMap(entry.side)
	lv := m[entry.price]
	if lv == nil {
		return false
	}
	for i, o := range lv.queue {
		if o.ID != id {
			continue
		}
		o.Remaining -= qty
		lv.totalQty -= qty
		if o.Remaining > 0 {
			return false
		}
		lv.queue = append(lv.queue[:i], lv.queue[i+1:]...)
		delete(b.index, id)
		if len(lv.queue) == 0 {
			delete(m, entry.price)
			b.removeFromHeap(entry.side, entry.price)
		}
		return true
	}
	return false
}

// Contains reports whether the order rests on the book.
func (b *Book) Contains(id clob.OrderID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

// Walk visits resting orders on the given side in strict price-time order
// (best price first, FIFO within a level), stopping when fn returns false.
// The book is not mutated during the walk.
func (b *Book) Walk(s clob.Side, fn func(o *clob.Order) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := b.sideMap(s)
	prices := make([]int64, 0, len(m))
	for p := range m {
		prices = append(prices, p)
	}
	if s == clob.Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	for _, p := range prices {
		for _, o := range m[p].queue {
			if !fn(o) {
				return
			}
		}
	}
}

// QueueAt returns the order ids resting at a price on the given side, in
// FIFO order.
func (b *Book) QueueAt(s clob.Side, price int64) []clob.OrderID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lv := b.sideMap(s)[price]
	if lv == nil {
		return nil
	}
	ids := make([]clob.OrderID, len(lv.queue))
	for i, o := range lv.queue {
		ids[i] = o.ID
	}
	return ids
}

// Levels returns aggregate level views for one side, best price first. A
// non-positive limit returns all levels.
func (b *Book) Levels(s clob.Side, limit int) []LevelView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := b.sideMap(s)
	views := make([]LevelView, 0, len(m))
	for _, lv := range m {
		views = append(views, LevelView{Price: lv.price, Qty: lv.totalQty})
	}
	if s == clob.Buy {
		sort.Slice(views, func(i, j int) bool { return views[i].Price > views[j].Price })
	} else {
		sort.Slice(views, func(i, j int) bool { return views[i].Price < views[j].Price })
	}
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

func (b *Book) removeFromHeap(s clob.Side, price int64) {
	if s == clob.Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}
