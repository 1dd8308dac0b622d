package book

import (
	"testing"

	"github.com/shopspring/decimal"
)

func trade(id, ts int64) Trade {
	return Trade{
		ID:        id,
		Market:    "BTC-USD",
		Side:      "BUY",
		Timestamp: ts,
		Price:     decimal.RequireFromString("100"),
		Quantity:  decimal.RequireFromString("0.1"),
	}
}

func ids(trades []Trade) []int64 {
	out := make([]int64, len(trades))
	for i, t := range trades {
		out[i] = t.ID
	}
	return out
}

func TestTradeLogNewestFirst(t *testing.T) {
	l := NewTradeLog()
	l.Add(trade(1, 100))
	l.Add(trade(2, 200))
	l.Add(trade(3, 300))

	got := ids(l.Latest())
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTradeLogLateArrivalSlotsBehindNewer(t *testing.T) {
	l := NewTradeLog()
	l.Add(trade(1, 100))
	l.Add(trade(3, 300))
	l.Add(trade(2, 200))

	got := ids(l.Latest())
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTradeLogTimestampTieBrokenByID(t *testing.T) {
	l := NewTradeLog()
	l.Add(trade(2, 100))
	l.Add(trade(1, 100))
	l.Add(trade(3, 100))

	got := ids(l.Latest())
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestTradeLogDropsDuplicateIDs(t *testing.T) {
	l := NewTradeLog()
	l.Add(trade(1, 100))
	l.Add(trade(1, 100))

	if l.Len() != 1 {
		t.Fatalf("len = %d after duplicate add", l.Len())
	}
}

func TestTradeLogCapacityEvictsOldest(t *testing.T) {
	l := NewTradeLog()
	for i := int64(1); i <= TradeLogCapacity+5; i++ {
		l.Add(trade(i, i*10))
	}

	if l.Len() != TradeLogCapacity {
		t.Fatalf("len = %d, want %d", l.Len(), TradeLogCapacity)
	}
	latest := l.Latest()
	if latest[0].ID != TradeLogCapacity+5 {
		t.Fatalf("newest id = %d", latest[0].ID)
	}
	if latest[len(latest)-1].ID != 6 {
		t.Fatalf("oldest id = %d, want 6", latest[len(latest)-1].ID)
	}
}

func TestTradeLogLatestIsCopy(t *testing.T) {
	l := NewTradeLog()
	l.Add(trade(1, 100))

	latest := l.Latest()
	latest[0].ID = 999

	if l.Latest()[0].ID != 1 {
		t.Fatal("mutating Latest output leaked into the log")
	}
}

func TestTradeLogReset(t *testing.T) {
	l := NewTradeLog()
	l.Add(trade(1, 100))
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("len = %d after reset", l.Len())
	}
}
