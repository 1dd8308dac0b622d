package order

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimeInForce represents the time-in-force setting.
type TimeInForce string

const (
	TimeInForceGTT TimeInForce = "GTT"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceIOC TimeInForce = "IOC"
)

// Signature is the settlement signature pair.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
}

// Settlement is the signed settlement block submitted with an order.
type Settlement struct {
	Signature          Signature `json:"signature"`
	StarkKey           string    `json:"starkKey"`
	CollateralPosition string    `json:"collateralPosition"`
}

// Model is the order payload in the exchange API shape.
type Model struct {
	ID                string      `json:"id"`
	Market            string      `json:"market"`
	Type              Type        `json:"type"`
	Side              Side        `json:"side"`
	Qty               string      `json:"qty"`
	Price             string      `json:"price"`
	TimeInForce       TimeInForce `json:"timeInForce"`
	ExpiryEpochMillis int64       `json:"expiryEpochMillis"`
	Fee               string      `json:"fee"`
	Nonce             string      `json:"nonce"`
	Settlement        Settlement  `json:"settlement"`
	ReduceOnly        bool        `json:"reduceOnly"`
	PostOnly          bool        `json:"postOnly"`
	CancelID          *string     `json:"cancelId,omitempty"`
}

// SignedIntent is the fully quantized, immutable settlement representation of
// one order. A fresh intent is built for every submission attempt.
type SignedIntent struct {
	PositionID        uint64
	BaseAssetID       string
	BaseAmount        int64
	QuoteAssetID      string
	QuoteAmount       int64
	FeeAssetID        string
	FeeAmount         int64
	ExpirationSeconds int64
	Nonce             int64
	PublicKey         *big.Int
	Hash              *big.Int
	SigR              *big.Int
	SigS              *big.Int
}

// Intent is a validated human trade intent. Build one with NewIntent so size
// and price are guaranteed positive decimals.
type Intent struct {
	Market      string
	Side        Side
	Type        Type
	Size        decimal.Decimal
	Price       decimal.Decimal
	TimeInForce TimeInForce
	PostOnly    bool
	ReduceOnly  bool
	ExpireAt    *time.Time
	Nonce       *int64
	ExternalID  string
	CancelID    *string
}

// NewIntent parses and validates the user-entered decimal strings.
func NewIntent(market string, side Side, size, price string) (Intent, error) {
	sz, err := decimal.NewFromString(size)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: size %q: %v", ErrInvalidAmount, size, err)
	}
	px, err := decimal.NewFromString(price)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: price %q: %v", ErrInvalidAmount, price, err)
	}
	if sz.Sign() <= 0 {
		return Intent{}, fmt.Errorf("%w: size must be positive", ErrInvalidAmount)
	}
	if px.Sign() <= 0 {
		return Intent{}, fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	return Intent{
		Market:      market,
		Side:        side,
		Type:        TypeLimit,
		Size:        sz,
		Price:       px,
		TimeInForce: TimeInForceGTT,
	}, nil
}

// BuildParams carries everything the codec needs besides the intent itself.
type BuildParams struct {
	Market        *Market
	Account       *Account
	Domain        StarknetDomain
	FeeRate       decimal.Decimal
	SigningBuffer time.Duration
	DefaultExpiry time.Duration
	Now           func() time.Time
}

// Build quantizes a trade intent, hashes it and signs it, returning the
// settlement intent and the API payload. Given identical inputs (including
// nonce and expiry) it produces a byte-identical hash and signature.
//
// Rounding matches the settlement engine exactly: buys round base and
// collateral amounts up, sells round them down, and the fee always rounds up.
// After rounding, the collateral leg is negated for buys and the base leg for
// sells, leaving exactly one negative leg.
func Build(intent Intent, p BuildParams) (*SignedIntent, *Model, error) {
	if p.Account == nil {
		return nil, nil, ErrCredentialsRequired
	}
	if p.Market == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrMarketNotFound, intent.Market)
	}
	if p.Market.Name != intent.Market {
		return nil, nil, fmt.Errorf("%w: metadata is for %s, intent is for %s", ErrMarketNotFound, p.Market.Name, intent.Market)
	}
	if intent.Size.Sign() <= 0 || intent.Price.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: size and price must be positive", ErrInvalidAmount)
	}
	if intent.Nonce == nil {
		return nil, nil, fmt.Errorf("%w: nonce must be provided", ErrInvalidAmount)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	expireAt := now().Add(p.DefaultExpiry)
	if intent.ExpireAt != nil {
		expireAt = *intent.ExpireAt
	}

	isBuy := intent.Side == SideBuy
	collateral := intent.Size.Mul(intent.Price)
	fee := p.FeeRate.Mul(collateral)

	collateralAmount := collateral.Mul(decimal.NewFromInt(p.Market.L2Config.CollateralResolution))
	baseAmount := intent.Size.Mul(decimal.NewFromInt(p.Market.L2Config.SyntheticResolution))

	if isBuy {
		collateralAmount = collateralAmount.Ceil()
		baseAmount = baseAmount.Ceil()
	} else {
		collateralAmount = collateralAmount.Floor()
		baseAmount = baseAmount.Floor()
	}

	quoteAmt := collateralAmount.IntPart()
	baseAmt := baseAmount.IntPart()
	feeAmt := fee.Mul(decimal.NewFromInt(p.Market.L2Config.CollateralResolution)).Ceil().IntPart()

	if isBuy {
		quoteAmt = -quoteAmt
	} else {
		baseAmt = -baseAmt
	}

	hash, err := HashOrder(HashParams{
		PositionID:          p.Account.Vault(),
		BaseAssetID:         p.Market.L2Config.SyntheticID,
		BaseAmount:          baseAmt,
		QuoteAssetID:        p.Market.L2Config.CollateralID,
		QuoteAmount:         quoteAmt,
		FeeAssetID:          p.Market.L2Config.CollateralID,
		FeeAmount:           feeAmt,
		ExpirationTimestamp: expireAt,
		SigningBuffer:       p.SigningBuffer,
		Nonce:               *intent.Nonce,
		PublicKey:           p.Account.PublicKey(),
		Domain:              p.Domain,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("hashing order failed: %w", err)
	}

	sigR, sigS, err := p.Account.Sign(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("signing order failed: %w", err)
	}

	signed := &SignedIntent{
		PositionID:        p.Account.Vault(),
		BaseAssetID:       p.Market.L2Config.SyntheticID,
		BaseAmount:        baseAmt,
		QuoteAssetID:      p.Market.L2Config.CollateralID,
		QuoteAmount:       quoteAmt,
		FeeAssetID:        p.Market.L2Config.CollateralID,
		FeeAmount:         feeAmt,
		ExpirationSeconds: expirationSeconds(expireAt, p.SigningBuffer),
		Nonce:             *intent.Nonce,
		PublicKey:         p.Account.PublicKey(),
		Hash:              hash,
		SigR:              sigR,
		SigS:              sigS,
	}

	externalID := intent.ExternalID
	if externalID == "" {
		externalID = uuid.NewString()
	}

	orderType := intent.Type
	if orderType == "" {
		orderType = TypeLimit
	}
	tif := intent.TimeInForce
	if tif == "" {
		tif = TimeInForceGTT
	}

	model := &Model{
		ID:                externalID,
		Market:            p.Market.Name,
		Type:              orderType,
		Side:              intent.Side,
		Qty:               intent.Size.String(),
		Price:             intent.Price.String(),
		TimeInForce:       tif,
		ExpiryEpochMillis: expireAt.UnixMilli(),
		Fee:               p.FeeRate.String(),
		Nonce:             fmt.Sprintf("%d", *intent.Nonce),
		ReduceOnly:        intent.ReduceOnly,
		PostOnly:          intent.PostOnly,
		CancelID:          intent.CancelID,
		Settlement: Settlement{
			Signature: Signature{
				R: fmt.Sprintf("0x%x", sigR),
				S: fmt.Sprintf("0x%x", sigS),
			},
			StarkKey:           p.Account.PublicKeyHex(),
			CollateralPosition: fmt.Sprintf("%d", p.Account.Vault()),
		},
	}

	return signed, model, nil
}

// SlippagePrice derives a market-order limit price from the configured
// slippage variant: "bidask" buffers off the touch, "mark" off the mark price.
// Buys pay up by pct, sells give way by pct.
func SlippagePrice(mode string, side Side, bestBid, bestAsk, markPrice, pct decimal.Decimal) (decimal.Decimal, error) {
	var base decimal.Decimal
	switch mode {
	case "bidask":
		if side == SideBuy {
			base = bestAsk
		} else {
			base = bestBid
		}
	case "mark":
		base = markPrice
	default:
		return decimal.Zero, fmt.Errorf("unknown slippage mode %q", mode)
	}
	if base.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no reference price for %s slippage", ErrInvalidAmount, mode)
	}

	one := decimal.NewFromInt(1)
	if side == SideBuy {
		return base.Mul(one.Add(pct)), nil
	}
	return base.Mul(one.Sub(pct)), nil
}
