package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"perps/config"
	"perps/pkg/order"
	"perps/pkg/stream"
)

type fakeMeta struct {
	market *order.Market
}

func (f *fakeMeta) GetMarket(name string) (*order.Market, error) {
	if f.market == nil || f.market.Name != name {
		return nil, fmt.Errorf("%w: %s", order.ErrMarketNotFound, name)
	}
	return f.market, nil
}

// idleTransport hands out subscriptions that never produce a message.
type idleTransport struct{}

func (idleTransport) Subscribe(ctx context.Context, market string, class stream.Class) (<-chan stream.Event, error) {
	ch := make(chan stream.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (idleTransport) FetchSnapshot(ctx context.Context, market string, class stream.Class) (stream.Message, error) {
	return stream.Message{}, errors.New("no snapshot endpoint in test")
}

func (idleTransport) Unsubscribe() {}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Stream.ReconnectBase = time.Millisecond
	cfg.Stream.ReconnectMax = 5 * time.Millisecond
	cfg.Throttle = config.ThrottleConfig{}
	return cfg
}

func testEngineMarket() *order.Market {
	return &order.Market{
		Name:   "BTC-USD",
		Active: true,
		L2Config: order.L2Config{
			CollateralID:         "0x31857064564ed0ff978e687456963cba09c2c6985d8f9300a1de4962fafa054d",
			CollateralResolution: 1_000_000,
			SyntheticID:          "0x4254432d3130000000000000000000",
			SyntheticResolution:  1_000_000,
		},
	}
}

func testEngineAccount(t *testing.T) *order.Account {
	t.Helper()
	acc, err := order.NewAccount(10001, "0x3c1e9550e66958296d11b60f8e8e7a7ad990d07fa65d5f7652c4a6c87d4e3cc", "key")
	if err != nil {
		t.Fatalf("NewAccount failed: %v", err)
	}
	return acc
}

func newTestEngine(t *testing.T, account *order.Account) *Engine {
	t.Helper()
	eng, err := New(testConfig(), &fakeMeta{market: testEngineMarket()}, idleTransport{}, account, stream.Consumer{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng
}

func TestEngineStartStop(t *testing.T) {
	eng := newTestEngine(t, nil)

	if err := eng.Start(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := eng.State(); got != stream.StateConnecting {
		t.Fatalf("state after Start = %s", got)
	}

	eng.Stop()
	eng.Stop() // idempotent
	if got := eng.State(); got != stream.StateDisconnected {
		t.Fatalf("state after Stop = %s", got)
	}
	if snap := eng.OrderBook(); len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Fatalf("order book after Stop = %+v", snap)
	}
}

func TestEngineStartUnknownMarket(t *testing.T) {
	eng := newTestEngine(t, nil)
	if err := eng.Start(context.Background(), "DOGE-USD"); !errors.Is(err, order.ErrMarketNotFound) {
		t.Fatalf("unknown market: got %v, want ErrMarketNotFound", err)
	}
}

func TestEngineRestartSwitchesMarket(t *testing.T) {
	eng := newTestEngine(t, nil)

	if err := eng.Start(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	// A second Start must tear the first subscription down, not overlap it.
	if err := eng.Start(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer eng.Stop()

	if got := eng.State(); got != stream.StateConnecting {
		t.Fatalf("state after restart = %s", got)
	}
}

func TestEngineNewRejectsBadRates(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.TakerFeeRate = "lots"
	if _, err := New(cfg, &fakeMeta{}, idleTransport{}, nil, stream.Consumer{}, nil); err == nil {
		t.Fatal("invalid taker_fee_rate accepted")
	}

	cfg = testConfig()
	cfg.Trading.SlippagePercent = ""
	if _, err := New(cfg, &fakeMeta{}, idleTransport{}, nil, stream.Consumer{}, nil); err == nil {
		t.Fatal("empty slippage_percent accepted")
	}
}

func TestEngineBuildAndSignOrder(t *testing.T) {
	eng := newTestEngine(t, testEngineAccount(t))
	if err := eng.Start(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer eng.Stop()

	intent, err := order.NewIntent("BTC-USD", order.SideBuy, "0.1", "100")
	if err != nil {
		t.Fatalf("NewIntent failed: %v", err)
	}
	nonce := int64(123)
	intent.Nonce = &nonce

	signed, model, err := eng.BuildAndSignOrder(intent)
	if err != nil {
		t.Fatalf("BuildAndSignOrder failed: %v", err)
	}
	if signed.Hash == nil || signed.SigR == nil || signed.SigS == nil {
		t.Fatalf("incomplete signed intent: %+v", signed)
	}
	if model.Market != "BTC-USD" {
		t.Fatalf("model market = %s", model.Market)
	}
}

func TestEngineBuildAndSignRequiresCredentials(t *testing.T) {
	eng := newTestEngine(t, nil)
	if err := eng.Start(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer eng.Stop()

	intent, _ := order.NewIntent("BTC-USD", order.SideBuy, "1", "100")
	if _, _, err := eng.BuildAndSignOrder(intent); !errors.Is(err, order.ErrCredentialsRequired) {
		t.Fatalf("got %v, want ErrCredentialsRequired", err)
	}
}

func TestEngineBuildAndSignWithoutSubscription(t *testing.T) {
	eng := newTestEngine(t, testEngineAccount(t))

	intent, _ := order.NewIntent("BTC-USD", order.SideBuy, "1", "100")
	if _, _, err := eng.BuildAndSignOrder(intent); !errors.Is(err, order.ErrMarketNotFound) {
		t.Fatalf("got %v, want ErrMarketNotFound", err)
	}
}

func TestEngineMarketOrderPriceWithoutBook(t *testing.T) {
	eng := newTestEngine(t, nil)
	if err := eng.Start(context.Background(), "BTC-USD"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer eng.Stop()

	if _, err := eng.MarketOrderPrice(order.SideBuy); err == nil {
		t.Fatal("empty book produced a market order price")
	}
}
