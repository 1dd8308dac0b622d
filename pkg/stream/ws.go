package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"perps/logger"
)

// WSConfig locates the exchange endpoints for the websocket transport.
type WSConfig struct {
	StreamURL  string
	APIBaseURL string
	APIKey     string
	Timeout    time.Duration
}

// WSTransport implements Transport over the exchange's public websocket
// streams, with a REST fallback for full order book snapshots.
type WSTransport struct {
	cfg    WSConfig
	log    *logger.Log
	client *fasthttp.Client

	mu    sync.Mutex
	conns map[Class]*websocket.Conn
}

func NewWSTransport(cfg WSConfig) *WSTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WSTransport{
		cfg:    cfg,
		log:    logger.GetLogger(),
		client: &fasthttp.Client{},
		conns:  make(map[Class]*websocket.Conn),
	}
}

// Subscribe dials the stream for one data class and returns its event
// channel. The channel closes after a terminal transport error; callers
// re-subscribe to reconnect.
func (t *WSTransport) Subscribe(ctx context.Context, market string, class Class) (<-chan Event, error) {
	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Add("X-Api-Key", t.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.Dial(t.streamPath(market, class), header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	t.mu.Lock()
	if old := t.conns[class]; old != nil {
		old.Close()
	}
	t.conns[class] = conn
	t.mu.Unlock()

	events := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go t.readLoop(ctx, conn, class, events, done)

	return events, nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn, class Class, events chan<- Event, done chan struct{}) {
	defer close(events)
	defer close(done)
	defer conn.Close()

	log := t.log.WithComponent("ws_transport").WithFields(logger.Fields{"class": class.String()})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				events <- Event{Err: &TransportError{Op: "read", Err: err}}
			}
			return
		}

		msg, err := ParseMessage(class, raw)
		if err != nil {
			// A malformed frame means we can no longer trust this
			// connection's stream position; drop it and reconnect.
			log.WithError(err).Warn("malformed frame")
			if ctx.Err() == nil {
				events <- Event{Err: err}
			}
			return
		}

		select {
		case events <- Event{Msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

// FetchSnapshot retrieves a full order book snapshot over REST.
func (t *WSTransport) FetchSnapshot(ctx context.Context, market string, class Class) (Message, error) {
	if class != ClassOrderbook {
		return Message{}, &TransportError{Op: "snapshot", Err: fmt.Errorf("no snapshot endpoint for class %s", class)}
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.cfg.APIBaseURL + "/info/markets/" + market + "/orderbook")
	req.Header.SetMethod(fasthttp.MethodGet)
	if t.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", t.cfg.APIKey)
	}

	if err := t.client.DoTimeout(req, resp, t.cfg.Timeout); err != nil {
		return Message{}, &TransportError{Op: "snapshot", Err: err}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return Message{}, &TransportError{Op: "snapshot", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	body := gjson.ParseBytes(resp.Body())
	if body.Get("status").String() != "OK" {
		return Message{}, &TransportError{Op: "snapshot", Err: fmt.Errorf("API status %q", body.Get("status").String())}
	}

	data := body.Get("data")
	levels, err := parseBookLevels(data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:      TypeSnapshot,
		Class:     ClassOrderbook,
		Sequence:  data.Get("seq").Uint(),
		Timestamp: data.Get("ts").Int(),
		Book:      levels,
	}, nil
}

// Unsubscribe closes every open stream connection.
func (t *WSTransport) Unsubscribe() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for class, conn := range t.conns {
		conn.Close()
		delete(t.conns, class)
	}
}

func (t *WSTransport) streamPath(market string, class Class) string {
	switch class {
	case ClassTrades:
		return t.cfg.StreamURL + "/publicTrades/" + market
	case ClassMarkPrice:
		return t.cfg.StreamURL + "/prices/mark/" + market
	default:
		return t.cfg.StreamURL + "/orderbooks/" + market
	}
}
