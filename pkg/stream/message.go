package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"perps/pkg/book"
)

// Class identifies one stream data class. Each class is an independent
// ordered stream; cross-class ordering is not guaranteed.
type Class int

const (
	ClassOrderbook Class = iota
	ClassTrades
	ClassMarkPrice
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassOrderbook:
		return "orderbook"
	case ClassTrades:
		return "trades"
	case ClassMarkPrice:
		return "mark-price"
	}
	return "unknown"
}

// MessageType tags the transport message union.
type MessageType int

const (
	TypeSnapshot MessageType = iota
	TypeDelta
	TypeSequenceBreak
	TypePing
)

// BookLevels is the level payload of an order book message.
type BookLevels struct {
	Bids []book.Level
	Asks []book.Level
}

// Message is a validated transport frame. Exactly one payload field is set,
// according to Class and Type.
type Message struct {
	Type      MessageType
	Class     Class
	Sequence  uint64
	Timestamp int64
	Book      *BookLevels
	Trades    []book.Trade
	MarkPrice decimal.Decimal
}

// Event is one item of a subscription's event stream. Err is set on transport
// failures; the channel closes after a terminal error.
type Event struct {
	Msg Message
	Err error
}

// Transport is the abstract streaming collaborator the reconciler consumes.
type Transport interface {
	Subscribe(ctx context.Context, market string, class Class) (<-chan Event, error)
	FetchSnapshot(ctx context.Context, market string, class Class) (Message, error)
	Unsubscribe()
}

// TransportError wraps connection drops and malformed frames. It is recovered
// locally via reconnect/backoff and never surfaced unless retries exhaust.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrStreamUnavailable is surfaced once the reconnect budget is exhausted.
// Recovery requires an explicit caller-initiated restart.
var ErrStreamUnavailable = errors.New("stream: unavailable after exhausting reconnect budget")

// ParseMessage validates a raw frame for the given class and converts it into
// the tagged union. Invalid payload shapes are a TransportError, never a
// crash further in.
func ParseMessage(class Class, raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, &TransportError{Op: "parse", Err: fmt.Errorf("frame is not valid JSON")}
	}
	frame := gjson.ParseBytes(raw)
	if !frame.IsObject() {
		return Message{}, &TransportError{Op: "parse", Err: fmt.Errorf("frame is not an object")}
	}

	typ := frame.Get("type").String()
	msg := Message{
		Class:     class,
		Sequence:  frame.Get("seq").Uint(),
		Timestamp: frame.Get("ts").Int(),
	}

	switch typ {
	case "PING":
		msg.Type = TypePing
		return msg, nil
	case "SEQUENCE_BREAK":
		msg.Type = TypeSequenceBreak
		return msg, nil
	case "SNAPSHOT":
		msg.Type = TypeSnapshot
	case "DELTA":
		msg.Type = TypeDelta
	default:
		return Message{}, &TransportError{Op: "parse", Err: fmt.Errorf("unknown frame type %q", typ)}
	}

	data := frame.Get("data")
	switch class {
	case ClassOrderbook:
		levels, err := parseBookLevels(data)
		if err != nil {
			return Message{}, err
		}
		msg.Book = levels
	case ClassTrades:
		trades, err := parseTrades(data)
		if err != nil {
			return Message{}, err
		}
		// A trade stream is append-only; deltas and snapshots carry the
		// same payload shape.
		msg.Trades = trades
	case ClassMarkPrice:
		priceStr := data.Get("p").String()
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return Message{}, &TransportError{Op: "parse", Err: fmt.Errorf("bad mark price %q: %v", priceStr, err)}
		}
		msg.MarkPrice = price
	}

	return msg, nil
}

func parseBookLevels(data gjson.Result) (*BookLevels, error) {
	if !data.IsObject() {
		return nil, &TransportError{Op: "parse", Err: fmt.Errorf("orderbook frame has no data object")}
	}
	bids, err := parseLevels(data.Get("b"))
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(data.Get("a"))
	if err != nil {
		return nil, err
	}
	return &BookLevels{Bids: bids, Asks: asks}, nil
}

func parseLevels(arr gjson.Result) ([]book.Level, error) {
	if !arr.Exists() {
		return nil, nil
	}
	if !arr.IsArray() {
		return nil, &TransportError{Op: "parse", Err: fmt.Errorf("levels are not an array")}
	}
	var out []book.Level
	var parseErr error
	arr.ForEach(func(_, v gjson.Result) bool {
		price, err1 := decimal.NewFromString(v.Get("p").String())
		qty, err2 := decimal.NewFromString(v.Get("q").String())
		if err1 != nil || err2 != nil {
			parseErr = &TransportError{Op: "parse", Err: fmt.Errorf("bad level %s", v.Raw)}
			return false
		}
		out = append(out, book.Level{Price: price, Quantity: qty})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func parseTrades(data gjson.Result) ([]book.Trade, error) {
	if !data.IsArray() {
		return nil, &TransportError{Op: "parse", Err: fmt.Errorf("trades frame has no data array")}
	}
	var out []book.Trade
	var parseErr error
	data.ForEach(func(_, v gjson.Result) bool {
		price, err1 := decimal.NewFromString(v.Get("p").String())
		qty, err2 := decimal.NewFromString(v.Get("q").String())
		if err1 != nil || err2 != nil {
			parseErr = &TransportError{Op: "parse", Err: fmt.Errorf("bad trade %s", v.Raw)}
			return false
		}
		out = append(out, book.Trade{
			ID:        v.Get("i").Int(),
			Market:    v.Get("m").String(),
			Side:      v.Get("S").String(),
			Type:      v.Get("tT").String(),
			Timestamp: v.Get("T").Int(),
			Price:     price,
			Quantity:  qty,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}
