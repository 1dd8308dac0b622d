package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"perps/config"
	"perps/logger"
	"perps/pkg/book"
	"perps/pkg/order"
	"perps/pkg/stream"
)

// MetadataProvider supplies market metadata. exchange.Client implements it.
type MetadataProvider interface {
	GetMarket(name string) (*order.Market, error)
}

// Engine is the explicitly owned trading engine handle: one market
// subscription and one authenticated account session at a time. Construct it,
// pass it to whatever layer needs it, Start/Stop it; there is no process-wide
// instance.
type Engine struct {
	cfg       *config.Config
	log       *logger.Log
	meta      MetadataProvider
	transport stream.Transport
	account   *order.Account
	consumer  stream.Consumer
	onStatus  func(stream.State, error)

	feeRate     decimal.Decimal
	slippagePct decimal.Decimal

	mu     sync.Mutex
	market *order.Market
	rec    *stream.Reconciler
}

// New wires an engine. account may be nil for a read-only (unauthenticated)
// session; signing then fails with ErrCredentialsRequired.
func New(cfg *config.Config, meta MetadataProvider, transport stream.Transport, account *order.Account, consumer stream.Consumer, onStatus func(stream.State, error)) (*Engine, error) {
	feeRate, err := decimal.NewFromString(cfg.Trading.TakerFeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid taker_fee_rate: %w", err)
	}
	slippagePct, err := decimal.NewFromString(cfg.Trading.SlippagePercent)
	if err != nil {
		return nil, fmt.Errorf("invalid slippage_percent: %w", err)
	}

	return &Engine{
		cfg:         cfg,
		log:         logger.GetLogger(),
		meta:        meta,
		transport:   transport,
		account:     account,
		consumer:    consumer,
		onStatus:    onStatus,
		feeRate:     feeRate,
		slippagePct: slippagePct,
	}, nil
}

// Start subscribes to a market. A previous subscription, if any, is fully
// torn down first; partial overlap between two markets is never allowed.
func (e *Engine) Start(ctx context.Context, marketName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.stopLocked()
	}

	market, err := e.meta.GetMarket(marketName)
	if err != nil {
		return err
	}

	throttle := stream.NewThrottle(e.consumer, stream.Intervals{
		BBO:    e.cfg.Throttle.BBOInterval,
		Book:   e.cfg.Throttle.BookInterval,
		Trades: e.cfg.Throttle.TradesInterval,
		Price:  e.cfg.Throttle.PriceInterval,
	})
	rec := stream.NewReconciler(stream.Config{
		ReconnectBase:   e.cfg.Stream.ReconnectBase,
		ReconnectMax:    e.cfg.Stream.ReconnectMax,
		MaxRetries:      e.cfg.Stream.MaxRetries,
		SnapshotsPerSec: e.cfg.Stream.SnapshotsPerSec,
	}, e.transport, throttle, e.onStatus)

	if err := rec.Start(ctx, marketName); err != nil {
		return err
	}

	e.market = market
	e.rec = rec
	e.log.WithComponent("engine").WithFields(logger.Fields{"market": marketName}).Info("engine started")
	return nil
}

// Stop tears down the active subscription. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.rec == nil {
		return
	}
	e.rec.Stop()
	e.rec = nil
	e.market = nil
	e.log.WithComponent("engine").Info("engine stopped")
}

// OrderBook returns an immutable snapshot of the current book.
func (e *Engine) OrderBook() book.Snapshot {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		return book.Snapshot{}
	}
	return rec.Snapshot()
}

// LatestTrades returns the bounded recent-trade buffer, newest first.
func (e *Engine) LatestTrades() []book.Trade {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.LatestTrades()
}

// MarkPrice returns the last mark price (zero before the first update).
func (e *Engine) MarkPrice() decimal.Decimal {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		return decimal.Zero
	}
	return rec.MarkPrice()
}

// State returns the stream availability state.
func (e *Engine) State() stream.State {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		return stream.StateDisconnected
	}
	return rec.State()
}

// BuildAndSignOrder quantizes, hashes and signs a trade intent against the
// active market's metadata. Pure computation: no network I/O; the caller
// performs submission.
func (e *Engine) BuildAndSignOrder(intent order.Intent) (*order.SignedIntent, *order.Model, error) {
	e.mu.Lock()
	market := e.market
	e.mu.Unlock()

	if e.account == nil {
		return nil, nil, order.ErrCredentialsRequired
	}
	if market == nil || market.Name != intent.Market {
		return nil, nil, fmt.Errorf("%w: %s", order.ErrMarketNotFound, intent.Market)
	}

	return order.Build(intent, order.BuildParams{
		Market:  market,
		Account: e.account,
		Domain: order.StarknetDomain{
			Name:     e.cfg.Trading.DomainName,
			Version:  e.cfg.Trading.DomainVersion,
			ChainID:  e.cfg.Trading.DomainChainID,
			Revision: e.cfg.Trading.DomainRevision,
		},
		FeeRate:       e.feeRate,
		SigningBuffer: e.cfg.Trading.SigningBuffer,
		DefaultExpiry: e.cfg.Trading.DefaultExpiry,
	})
}

// MarketOrderPrice derives the limit price for a market order from the
// configured slippage variant and the current book or mark price.
func (e *Engine) MarketOrderPrice(side order.Side) (decimal.Decimal, error) {
	snap := e.OrderBook()
	var bestBid, bestAsk decimal.Decimal
	if len(snap.Bids) > 0 {
		bestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		bestAsk = snap.Asks[0].Price
	}
	return order.SlippagePrice(e.cfg.Trading.SlippageMode, side, bestBid, bestAsk, e.MarkPrice(), e.slippagePct)
}
