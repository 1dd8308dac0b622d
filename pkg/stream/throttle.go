package stream

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perps/pkg/book"
)

// Consumer receives throttled derived state. Callbacks run on timer
// goroutines and must not call back into Throttle.Stop or the reconciler.
type Consumer struct {
	OnBBO       func(snap book.Snapshot)
	OnBook      func(snap book.Snapshot)
	OnTrades    func(trades []book.Trade)
	OnMarkPrice func(price decimal.Decimal)
}

// Intervals sets per-class flush intervals. A non-positive interval delivers
// synchronously.
type Intervals struct {
	BBO    time.Duration
	Book   time.Duration
	Trades time.Duration
	Price  time.Duration
}

type throttleClass int

const (
	throttleBBO throttleClass = iota
	throttleBook
	throttleTrades
	throttlePrice
	numThrottleClasses
)

// Throttle coalesces high-frequency reconciler updates into a bounded push
// cadence per data class. The first update of a burst schedules a trailing
// flush; later updates before the timer fires overwrite the pending value, so
// the consumer always observes the final state of a burst and never an
// intermediate one.
type Throttle struct {
	consumer  Consumer
	intervals [numThrottleClasses]time.Duration

	mu      sync.Mutex
	stopped bool
	pending [numThrottleClasses]pendingState
}

type pendingState struct {
	timer     *time.Timer
	scheduled bool
	snap      book.Snapshot
	trades    []book.Trade
	price     decimal.Decimal
}

func NewThrottle(consumer Consumer, iv Intervals) *Throttle {
	t := &Throttle{consumer: consumer}
	t.intervals[throttleBBO] = iv.BBO
	t.intervals[throttleBook] = iv.Book
	t.intervals[throttleTrades] = iv.Trades
	t.intervals[throttlePrice] = iv.Price
	return t
}

// PushBook records a book mutation for both the bbo and full-depth classes.
func (t *Throttle) PushBook(snap book.Snapshot) {
	t.push(throttleBBO, func(p *pendingState) { p.snap = snap })
	t.push(throttleBook, func(p *pendingState) { p.snap = snap })
}

// PushTrades records a trade-buffer mutation.
func (t *Throttle) PushTrades(trades []book.Trade) {
	t.push(throttleTrades, func(p *pendingState) { p.trades = trades })
}

// PushMarkPrice records a mark-price update.
func (t *Throttle) PushMarkPrice(price decimal.Decimal) {
	t.push(throttlePrice, func(p *pendingState) { p.price = price })
}

func (t *Throttle) push(class throttleClass, set func(*pendingState)) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	p := &t.pending[class]
	set(p)

	interval := t.intervals[class]
	if interval <= 0 {
		t.deliverLocked(class)
		t.mu.Unlock()
		return
	}

	if !p.scheduled {
		p.scheduled = true
		p.timer = time.AfterFunc(interval, func() { t.flush(class) })
	}
	t.mu.Unlock()
}

func (t *Throttle) flush(class throttleClass) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending[class].scheduled = false
	t.deliverLocked(class)
}

// deliverLocked invokes the consumer under the lock, so Stop cannot return
// while a callback is in flight.
func (t *Throttle) deliverLocked(class throttleClass) {
	p := &t.pending[class]
	switch class {
	case throttleBBO:
		if t.consumer.OnBBO != nil {
			t.consumer.OnBBO(p.snap)
		}
	case throttleBook:
		if t.consumer.OnBook != nil {
			t.consumer.OnBook(p.snap)
		}
	case throttleTrades:
		if t.consumer.OnTrades != nil {
			t.consumer.OnTrades(p.trades)
		}
	case throttlePrice:
		if t.consumer.OnMarkPrice != nil {
			t.consumer.OnMarkPrice(p.price)
		}
	}
}

// Stop cancels all pending flush timers. No consumer callback fires after
// Stop returns. Stop is idempotent.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	for i := range t.pending {
		if t.pending[i].timer != nil {
			t.pending[i].timer.Stop()
		}
		t.pending[i].scheduled = false
	}
}
