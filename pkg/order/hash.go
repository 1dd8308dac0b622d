package order

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"perps/pkg/stark"
)

// StarknetDomain binds a signature to one network deployment. Orders hashed
// under different domains never collide.
type StarknetDomain struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	ChainID  string `json:"chainId"`
	Revision string `json:"revision"`
}

var mask250 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

var (
	messagePrefix  = mustShortString("StarkNet Message")
	domainTypeHash = keccakBytes([]byte("StarknetDomain(name:shortstring,version:shortstring,chainId:shortstring,revision:shortstring)"))
	orderTypeHash  = keccakBytes([]byte("Order(positionId:felt,baseAssetId:felt,baseAmount:felt,quoteAssetId:felt,quoteAmount:felt,feeAssetId:felt,feeAmount:felt,expiration:felt,nonce:felt)"))
)

// HashParams is the ordered tuple bound into an order signature.
type HashParams struct {
	PositionID          uint64
	BaseAssetID         string
	BaseAmount          int64
	QuoteAssetID        string
	QuoteAmount         int64
	FeeAssetID          string
	FeeAmount           int64
	ExpirationTimestamp time.Time
	SigningBuffer       time.Duration
	Nonce               int64
	PublicKey           *big.Int
	Domain              StarknetDomain
}

// HashOrder computes the canonical 251-bit message hash for an order. The
// scheme is a keccak-250 chain: prefix, domain hash, signer key, then the
// struct hash over the ordered field tuple. Negative amounts are first mapped
// into the prime field's positive residue class.
func HashOrder(p HashParams) (*big.Int, error) {
	baseAsset, err := assetFelt(p.BaseAssetID)
	if err != nil {
		return nil, err
	}
	quoteAsset, err := assetFelt(p.QuoteAssetID)
	if err != nil {
		return nil, err
	}
	feeAsset, err := assetFelt(p.FeeAssetID)
	if err != nil {
		return nil, err
	}

	domainHash, err := p.Domain.hash()
	if err != nil {
		return nil, err
	}

	structHash := keccakFelts(
		orderTypeHash,
		new(big.Int).SetUint64(p.PositionID),
		baseAsset,
		signedFelt(p.BaseAmount),
		quoteAsset,
		signedFelt(p.QuoteAmount),
		feeAsset,
		signedFelt(p.FeeAmount),
		big.NewInt(expirationSeconds(p.ExpirationTimestamp, p.SigningBuffer)),
		signedFelt(p.Nonce),
	)

	return keccakFelts(messagePrefix, domainHash, p.PublicKey, structHash), nil
}

func (d StarknetDomain) hash() (*big.Int, error) {
	name, err := shortString(d.Name)
	if err != nil {
		return nil, err
	}
	version, err := shortString(d.Version)
	if err != nil {
		return nil, err
	}
	chainID, err := shortString(d.ChainID)
	if err != nil {
		return nil, err
	}
	revision, err := shortString(d.Revision)
	if err != nil {
		return nil, err
	}
	return keccakFelts(domainTypeHash, name, version, chainID, revision), nil
}

// expirationSeconds applies the configured signing buffer and rounds up to a
// whole second, matching the settlement engine's expiry granularity.
func expirationSeconds(t time.Time, buffer time.Duration) int64 {
	buffered := t.Add(buffer)
	rounded := buffered.Truncate(time.Second)
	if buffered.After(rounded) {
		rounded = rounded.Add(time.Second)
	}
	return rounded.Unix()
}

// signedFelt maps a signed amount into the field: v >= 0 stays as-is, v < 0
// becomes PRIME + v.
func signedFelt(v int64) *big.Int {
	f := big.NewInt(v)
	if v < 0 {
		f.Add(f, stark.Prime())
	}
	return f
}

func assetFelt(hexID string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(hexID, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("%w: bad asset id %q", ErrMarketNotFound, hexID)
	}
	return v, nil
}

func shortString(s string) (*big.Int, error) {
	if len(s) > 31 {
		return nil, fmt.Errorf("short string %q exceeds 31 bytes", s)
	}
	return new(big.Int).SetBytes([]byte(s)), nil
}

func mustShortString(s string) *big.Int {
	v, err := shortString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func keccakBytes(b []byte) *big.Int {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	out := new(big.Int).SetBytes(h.Sum(nil))
	return out.And(out, mask250)
}

func keccakFelts(felts ...*big.Int) *big.Int {
	h := sha3.NewLegacyKeccak256()
	buf := make([]byte, 32)
	for _, f := range felts {
		f.FillBytes(buf)
		h.Write(buf)
	}
	out := new(big.Int).SetBytes(h.Sum(nil))
	return out.And(out, mask250)
}
