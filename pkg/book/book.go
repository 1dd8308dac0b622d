package book

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Side identifies one half of the book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level is one resting price level. A level never carries zero quantity; a
// zero-quantity update removes the level instead.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is the canonical order book for a single market. Bids are kept in
// strictly descending price order, asks strictly ascending, with no duplicate
// prices on a side. Only the stream reconciler mutates a Book; everyone else
// receives Snapshot copies.
type Book struct {
	market    string
	bids      []Level
	asks      []Level
	timestamp int64
	sequence  uint64
}

// Snapshot is an immutable copy of book state handed to consumers.
type Snapshot struct {
	Market    string
	Bids      []Level
	Asks      []Level
	Timestamp int64
	Sequence  uint64
}

func New(market string) *Book {
	return &Book{market: market}
}

func (b *Book) Market() string   { return b.market }
func (b *Book) Sequence() uint64 { return b.sequence }

// ApplySnapshot replaces the book wholesale. Zero-quantity levels in the
// payload are dropped and each side is sorted, so applying the same snapshot
// twice yields an identical book.
func (b *Book) ApplySnapshot(bids, asks []Level, sequence uint64, timestamp int64) {
	b.bids = normalize(bids, SideBid)
	b.asks = normalize(asks, SideAsk)
	b.sequence = sequence
	b.timestamp = timestamp
}

// ApplyLevel applies one delta entry: zero quantity removes the level (no-op
// when absent), a non-zero quantity replaces an existing level or inserts a
// new one at its sorted position.
func (b *Book) ApplyLevel(side Side, price, quantity decimal.Decimal) {
	levels := b.side(side)
	idx, found := search(*levels, side, price)

	if quantity.IsZero() {
		if found {
			*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
		}
		return
	}

	if found {
		(*levels)[idx].Quantity = quantity
		return
	}

	*levels = append(*levels, Level{})
	copy((*levels)[idx+1:], (*levels)[idx:])
	(*levels)[idx] = Level{Price: price, Quantity: quantity}
}

// Advance records the sequence number and timestamp of an applied delta.
func (b *Book) Advance(sequence uint64, timestamp int64) {
	b.sequence = sequence
	b.timestamp = timestamp
}

// BestBid returns the highest bid, if any.
func (b *Book) BestBid() (Level, bool) {
	if len(b.bids) == 0 {
		return Level{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *Book) BestAsk() (Level, bool) {
	if len(b.asks) == 0 {
		return Level{}, false
	}
	return b.asks[0], true
}

// Snapshot returns a deep copy of the current state.
func (b *Book) Snapshot() Snapshot {
	bids := make([]Level, len(b.bids))
	copy(bids, b.bids)
	asks := make([]Level, len(b.asks))
	copy(asks, b.asks)
	return Snapshot{
		Market:    b.market,
		Bids:      bids,
		Asks:      asks,
		Timestamp: b.timestamp,
		Sequence:  b.sequence,
	}
}

// Reset clears the book to its uninitialized state.
func (b *Book) Reset() {
	b.bids = nil
	b.asks = nil
	b.timestamp = 0
	b.sequence = 0
}

func (b *Book) side(side Side) *[]Level {
	if side == SideBid {
		return &b.bids
	}
	return &b.asks
}

// search locates price on a sorted side. It returns the index of the matching
// level, or the insertion index that preserves sort order.
func search(levels []Level, side Side, price decimal.Decimal) (int, bool) {
	idx := sort.Search(len(levels), func(i int) bool {
		if side == SideBid {
			return levels[i].Price.Cmp(price) <= 0
		}
		return levels[i].Price.Cmp(price) >= 0
	})
	if idx < len(levels) && levels[idx].Price.Cmp(price) == 0 {
		return idx, true
	}
	return idx, false
}

func normalize(levels []Level, side Side) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Quantity.IsZero() {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if side == SideBid {
			return out[i].Price.Cmp(out[j].Price) > 0
		}
		return out[i].Price.Cmp(out[j].Price) < 0
	})
	return out
}
