package book

import "github.com/shopspring/decimal"

// TradeLogCapacity bounds the recent-trade buffer.
const TradeLogCapacity = 100

// Trade is one executed trade, immutable once recorded.
type Trade struct {
	ID        int64
	Market    string
	Side      string
	Type      string
	Timestamp int64
	Price     decimal.Decimal
	Quantity  decimal.Decimal
}

// TradeLog keeps the most recent trades, newest first. Overflow evicts the
// oldest entry; recorded trades are never mutated.
type TradeLog struct {
	trades []Trade
}

func NewTradeLog() *TradeLog {
	return &TradeLog{trades: make([]Trade, 0, TradeLogCapacity)}
}

// Add inserts a trade at its chronological position. A late arrival slots in
// behind strictly newer trades instead of displacing them; ties are broken by
// trade id. Exact id duplicates are dropped.
func (l *TradeLog) Add(t Trade) {
	idx := 0
	for idx < len(l.trades) {
		cur := l.trades[idx]
		if cur.ID == t.ID {
			return
		}
		if !newer(cur, t) {
			break
		}
		idx++
	}

	l.trades = append(l.trades, Trade{})
	copy(l.trades[idx+1:], l.trades[idx:])
	l.trades[idx] = t

	if len(l.trades) > TradeLogCapacity {
		l.trades = l.trades[:TradeLogCapacity]
	}
}

// Latest returns a copy of the buffer, most recent first.
func (l *TradeLog) Latest() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *TradeLog) Len() int {
	return len(l.trades)
}

// Reset discards all buffered trades.
func (l *TradeLog) Reset() {
	l.trades = l.trades[:0]
}

func newer(a, b Trade) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}
