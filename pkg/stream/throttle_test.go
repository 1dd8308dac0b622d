package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perps/pkg/book"
)

type bookRecorder struct {
	mu    sync.Mutex
	snaps []book.Snapshot
}

func (r *bookRecorder) record(snap book.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
}

func (r *bookRecorder) get() []book.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]book.Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func TestThrottleCoalescesBurst(t *testing.T) {
	rec := &bookRecorder{}
	th := NewThrottle(Consumer{OnBook: rec.record}, Intervals{Book: 40 * time.Millisecond})
	defer th.Stop()

	th.PushBook(book.Snapshot{Sequence: 1})
	th.PushBook(book.Snapshot{Sequence: 2})
	th.PushBook(book.Snapshot{Sequence: 3})

	time.Sleep(150 * time.Millisecond)

	snaps := rec.get()
	if len(snaps) != 1 {
		t.Fatalf("got %d deliveries for one burst, want 1", len(snaps))
	}
	if snaps[0].Sequence != 3 {
		t.Fatalf("delivered seq %d, want the final state 3", snaps[0].Sequence)
	}

	// The next burst schedules a fresh flush.
	th.PushBook(book.Snapshot{Sequence: 4})
	time.Sleep(150 * time.Millisecond)
	snaps = rec.get()
	if len(snaps) != 2 || snaps[1].Sequence != 4 {
		t.Fatalf("second burst deliveries = %+v", snaps)
	}
}

func TestThrottleSynchronousWhenIntervalZero(t *testing.T) {
	rec := &bookRecorder{}
	th := NewThrottle(Consumer{OnBook: rec.record}, Intervals{})
	defer th.Stop()

	th.PushBook(book.Snapshot{Sequence: 1})
	th.PushBook(book.Snapshot{Sequence: 2})

	snaps := rec.get()
	if len(snaps) != 2 {
		t.Fatalf("got %d deliveries, want 2 synchronous ones", len(snaps))
	}
}

func TestThrottleStopSuppressesPendingFlush(t *testing.T) {
	rec := &bookRecorder{}
	th := NewThrottle(Consumer{OnBook: rec.record}, Intervals{Book: 20 * time.Millisecond})

	th.PushBook(book.Snapshot{Sequence: 1})
	th.Stop()
	th.Stop() // idempotent

	time.Sleep(80 * time.Millisecond)
	if n := len(rec.get()); n != 0 {
		t.Fatalf("%d deliveries after Stop, want 0", n)
	}

	// Pushes after Stop are dropped too.
	th.PushBook(book.Snapshot{Sequence: 2})
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.get()); n != 0 {
		t.Fatalf("%d deliveries for a push after Stop", n)
	}
}

func TestThrottleClassesAreIndependent(t *testing.T) {
	rec := &bookRecorder{}
	var mu sync.Mutex
	var prices []decimal.Decimal
	th := NewThrottle(Consumer{
		OnBook: rec.record,
		OnMarkPrice: func(p decimal.Decimal) {
			mu.Lock()
			prices = append(prices, p)
			mu.Unlock()
		},
	}, Intervals{Book: time.Hour}) // book flush never fires in this test
	defer th.Stop()

	th.PushBook(book.Snapshot{Sequence: 1})
	th.PushMarkPrice(decimal.RequireFromString("100"))
	th.PushMarkPrice(decimal.RequireFromString("101"))

	mu.Lock()
	gotPrices := len(prices)
	mu.Unlock()
	if gotPrices != 2 {
		t.Fatalf("mark price deliveries = %d, want 2 synchronous ones", gotPrices)
	}
	if n := len(rec.get()); n != 0 {
		t.Fatalf("book delivered %d times despite pending timer", n)
	}
}

func TestThrottleBookFeedsBBO(t *testing.T) {
	bbo := &bookRecorder{}
	full := &bookRecorder{}
	th := NewThrottle(Consumer{OnBBO: bbo.record, OnBook: full.record}, Intervals{})
	defer th.Stop()

	th.PushBook(book.Snapshot{Sequence: 9})

	if len(bbo.get()) != 1 || len(full.get()) != 1 {
		t.Fatalf("bbo/book deliveries = %d/%d, want 1/1", len(bbo.get()), len(full.get()))
	}
}
