package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"perps/logger"
	"perps/pkg/book"
)

// State is the reconciler's availability state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
	StateResyncing
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	case StateUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Config controls reconnect and resync behaviour.
type Config struct {
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
	MaxRetries      int
	SnapshotsPerSec float64
}

// session tracks the last applied sequence for one data class. ok is false
// until a snapshot lands, and after every reconnect or resync.
type session struct {
	seq uint64
	ok  bool
}

// Reconciler owns one market-data subscription and keeps the exposed order
// book state internally consistent: snapshots replace the book wholesale,
// deltas apply only in Synced state with exactly-consecutive sequence
// numbers, and any gap forces a resync through a fresh snapshot.
type Reconciler struct {
	transport Transport
	throttle  *Throttle
	onStatus  func(State, error)
	cfg       Config
	log       *logger.Log

	mu       sync.Mutex
	running  bool
	market   string
	state    State
	sessions [numClasses]session
	book     *book.Book
	trades   *book.TradeLog
	markPx   decimal.Decimal

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReconciler wires a reconciler to its transport and throttle. onStatus
// receives availability transitions; it may be nil.
func NewReconciler(cfg Config, transport Transport, throttle *Throttle, onStatus func(State, error)) *Reconciler {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = 60 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 10
	}
	limit := rate.Inf
	if cfg.SnapshotsPerSec > 0 {
		limit = rate.Limit(cfg.SnapshotsPerSec)
	}
	return &Reconciler{
		transport: transport,
		throttle:  throttle,
		onStatus:  onStatus,
		cfg:       cfg,
		log:       logger.GetLogger(),
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Start begins the subscription for one market. Only one subscription may be
// active per reconciler; callers switching markets must Stop first.
func (r *Reconciler) Start(ctx context.Context, market string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	r.running = true
	r.market = market
	r.state = StateConnecting
	r.sessions = [numClasses]session{}
	r.book = book.New(market)
	r.trades = book.NewTradeLog()
	r.markPx = decimal.Zero
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("reconciler").WithFields(logger.Fields{"market": market}).Info("starting subscription")
	r.notify(StateConnecting, nil)

	for class := Class(0); class < numClasses; class++ {
		r.wg.Add(1)
		go r.runClass(class)
	}
	return nil
}

// Stop tears the subscription down: cancels the transport, waits for all
// workers, stops throttle timers and clears all per-stream sequence state.
// Stop is idempotent, and no timer callback fires after it returns.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.transport.Unsubscribe()
	r.wg.Wait()
	r.throttle.Stop()

	r.mu.Lock()
	r.state = StateDisconnected
	r.sessions = [numClasses]session{}
	if r.book != nil {
		r.book.Reset()
	}
	if r.trades != nil {
		r.trades.Reset()
	}
	r.mu.Unlock()

	r.log.WithComponent("reconciler").WithFields(logger.Fields{"market": r.market}).Info("subscription stopped")
}

// State returns the current availability state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns an immutable copy of the order book.
func (r *Reconciler) Snapshot() book.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.book == nil {
		return book.Snapshot{}
	}
	return r.book.Snapshot()
}

// LatestTrades returns the bounded recent-trade buffer, newest first.
func (r *Reconciler) LatestTrades() []book.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trades == nil {
		return nil
	}
	return r.trades.Latest()
}

// MarkPrice returns the last republished mark price (zero before the first
// update).
func (r *Reconciler) MarkPrice() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markPx
}

func (r *Reconciler) runClass(class Class) {
	defer r.wg.Done()

	log := r.log.WithComponent("reconciler").WithFields(logger.Fields{
		"market": r.market,
		"class":  class.String(),
	})

	attempt := 0
	for {
		if r.ctx.Err() != nil {
			return
		}

		events, err := r.transport.Subscribe(r.ctx, r.market, class)
		if err != nil {
			log.WithError(err).Warn("subscribe failed")
			if !r.delayReconnect(&attempt) {
				return
			}
			continue
		}

		for ev := range events {
			if r.ctx.Err() != nil {
				return
			}
			if ev.Err != nil {
				log.WithError(ev.Err).Warn("transport error")
				break
			}
			attempt = 0
			r.handle(class, ev.Msg)
		}

		if r.ctx.Err() != nil {
			return
		}
		r.onDisconnect(class, log)
		if !r.delayReconnect(&attempt) {
			return
		}
	}
}

func (r *Reconciler) onDisconnect(class Class, log *logger.Entry) {
	r.mu.Lock()
	r.sessions[class] = session{}
	changed := false
	if class == ClassOrderbook && r.state != StateUnavailable {
		changed = r.state != StateDisconnected
		r.state = StateDisconnected
	}
	r.mu.Unlock()

	log.Warn("stream disconnected")
	if changed {
		r.notify(StateDisconnected, nil)
	}
}

// delayReconnect sleeps the capped exponential backoff for the attempt. It
// returns false once the retry budget is exhausted or the context is done.
func (r *Reconciler) delayReconnect(attempt *int) bool {
	*attempt++
	if *attempt > r.cfg.MaxRetries {
		r.fail(ErrStreamUnavailable)
		return false
	}

	timer := time.NewTimer(backoffDelay(*attempt-1, r.cfg.ReconnectBase, r.cfg.ReconnectMax))
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Reconciler) handle(class Class, msg Message) {
	switch class {
	case ClassOrderbook:
		r.handleBook(msg)
	case ClassTrades:
		r.handleTrades(msg)
	case ClassMarkPrice:
		r.handleMarkPrice(msg)
	}
}

func (r *Reconciler) handleBook(msg Message) {
	switch msg.Type {
	case TypePing:
		return

	case TypeSnapshot:
		if msg.Book == nil {
			return
		}
		r.mu.Lock()
		sess := r.sessions[ClassOrderbook]
		if sess.ok && msg.Sequence < sess.seq {
			// Stale snapshot from a slow resync fetch; the live stream
			// already moved past it.
			r.mu.Unlock()
			return
		}
		r.book.ApplySnapshot(msg.Book.Bids, msg.Book.Asks, msg.Sequence, msg.Timestamp)
		r.sessions[ClassOrderbook] = session{seq: msg.Sequence, ok: true}
		changed := r.state != StateSynced
		r.state = StateSynced
		snap := r.book.Snapshot()
		r.mu.Unlock()

		if changed {
			r.notify(StateSynced, nil)
		}
		r.throttle.PushBook(snap)

	case TypeDelta:
		if msg.Book == nil {
			return
		}
		r.mu.Lock()
		if r.state != StateSynced {
			// Resyncing discards buffered deltas until a fresh snapshot.
			r.mu.Unlock()
			return
		}
		sess := r.sessions[ClassOrderbook]
		if !sess.ok || msg.Sequence != sess.seq+1 {
			r.beginResyncLocked(sess.seq, msg.Sequence)
			return
		}
		for _, l := range msg.Book.Bids {
			r.book.ApplyLevel(book.SideBid, l.Price, l.Quantity)
		}
		for _, l := range msg.Book.Asks {
			r.book.ApplyLevel(book.SideAsk, l.Price, l.Quantity)
		}
		r.book.Advance(msg.Sequence, msg.Timestamp)
		r.sessions[ClassOrderbook].seq = msg.Sequence
		snap := r.book.Snapshot()
		r.mu.Unlock()

		r.throttle.PushBook(snap)

	case TypeSequenceBreak:
		r.mu.Lock()
		if r.state != StateSynced {
			r.mu.Unlock()
			return
		}
		r.beginResyncLocked(r.sessions[ClassOrderbook].seq, msg.Sequence)
	}
}

// beginResyncLocked transitions to Resyncing and schedules a snapshot fetch.
// The caller holds r.mu; the lock is released here.
func (r *Reconciler) beginResyncLocked(lastSeq, gotSeq uint64) {
	r.state = StateResyncing
	r.sessions[ClassOrderbook] = session{}
	r.mu.Unlock()

	r.log.WithComponent("reconciler").WithFields(logger.Fields{
		"market":        r.market,
		"last_sequence": lastSeq,
		"got_sequence":  gotSeq,
	}).Warn("sequence break, resyncing")

	r.notify(StateResyncing, nil)

	r.wg.Add(1)
	go r.resync()
}

// resync fetches a full snapshot over REST and reapplies it. Fetches are
// rate-limited so a sequence-break storm cannot hammer the endpoint.
func (r *Reconciler) resync() {
	defer r.wg.Done()

	log := r.log.WithComponent("reconciler").WithFields(logger.Fields{"market": r.market})

	attempt := 0
	for {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}

		msg, err := r.transport.FetchSnapshot(r.ctx, r.market, ClassOrderbook)
		if err == nil && msg.Type == TypeSnapshot && msg.Book != nil {
			r.handleBook(msg)
			return
		}
		if err != nil {
			log.WithError(err).Warn("snapshot fetch failed")
		}

		if !r.delayReconnect(&attempt) {
			return
		}
	}
}

func (r *Reconciler) handleTrades(msg Message) {
	if msg.Type == TypePing || len(msg.Trades) == 0 {
		return
	}
	r.mu.Lock()
	for _, t := range msg.Trades {
		r.trades.Add(t)
	}
	latest := r.trades.Latest()
	r.mu.Unlock()

	r.throttle.PushTrades(latest)
}

// handleMarkPrice republishes the price; risk math on top of it lives with
// the position collaborator, not here.
func (r *Reconciler) handleMarkPrice(msg Message) {
	if msg.Type == TypePing {
		return
	}
	r.mu.Lock()
	r.markPx = msg.MarkPrice
	r.mu.Unlock()

	r.throttle.PushMarkPrice(msg.MarkPrice)
}

func (r *Reconciler) fail(err error) {
	r.mu.Lock()
	if r.state == StateUnavailable {
		r.mu.Unlock()
		return
	}
	r.state = StateUnavailable
	r.mu.Unlock()

	r.log.WithComponent("reconciler").WithFields(logger.Fields{"market": r.market}).WithError(err).Error("stream unavailable")
	r.notify(StateUnavailable, err)
}

func (r *Reconciler) notify(s State, err error) {
	if r.onStatus != nil {
		r.onStatus(s, err)
	}
}
