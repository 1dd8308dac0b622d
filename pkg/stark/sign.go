package stark

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrInvalidScalar reports a private scalar outside [1, N-1].
	ErrInvalidScalar = errors.New("stark: private scalar out of range")
	// ErrInvalidMessageHash reports a message hash outside the canonical
	// 251-bit range.
	ErrInvalidMessageHash = errors.New("stark: message hash out of range")
	// ErrInvalidSeed reports grinding input that is too short or not hex.
	ErrInvalidSeed = errors.New("stark: invalid key seed")
)

// GrindKey derives a private scalar from a raw external signature. The first
// 32 bytes of the signature seed a SHA-256 rejection-sampling loop: candidates
// at or above 2^256 - (2^256 mod N) are discarded so the reduction mod N stays
// unbiased, and the first surviving candidate is the key.
func GrindKey(rawSignatureHex string) (*big.Int, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(rawSignatureHex, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("%w: need at least 32 bytes, got %d", ErrInvalidSeed, len(raw))
	}
	seed := raw[:32]

	two256 := new(big.Int).Lsh(big.NewInt(1), 256)
	limit := new(big.Int).Sub(two256, new(big.Int).Mod(two256, curveN))

	buf := make([]byte, 33)
	copy(buf, seed)
	for i := 0; i < 256; i++ {
		buf[32] = byte(i)
		digest := sha256.Sum256(buf)
		k := new(big.Int).SetBytes(digest[:])
		if k.Cmp(limit) < 0 {
			return k.Mod(k, curveN), nil
		}
	}
	// 256 consecutive rejections cannot happen for an honest limit.
	return nil, fmt.Errorf("%w: grinding did not converge", ErrInvalidSeed)
}

// PublicKey returns the public point for the given private scalar.
func PublicKey(priv *big.Int) (x, y *big.Int, err error) {
	if err := checkScalar(priv); err != nil {
		return nil, nil, err
	}
	p := scalarMul(priv, generator())
	return p.x, p.y, nil
}

// Sign produces a deterministic ECDSA signature (r, s) over the curve. The
// per-message nonce comes from an RFC 6979 HMAC-SHA256 generator, so signing
// an identical (key, hash) pair always yields the identical signature.
func Sign(priv, msgHash *big.Int) (r, s *big.Int, err error) {
	if err := checkScalar(priv); err != nil {
		return nil, nil, err
	}
	if err := checkMessageHash(msgHash); err != nil {
		return nil, nil, err
	}

	gen := newNonceGenerator(priv, msgHash)
	for {
		k := gen.next()

		kg := scalarMul(k, generator())
		if kg.infinity {
			continue
		}
		r = new(big.Int).Set(kg.x)
		if r.Sign() == 0 || r.Cmp(elementBound) >= 0 {
			continue
		}

		// s = k^-1 * (z + r*d) mod N
		s = new(big.Int).Mul(r, priv)
		s.Add(s, msgHash)
		s.Mod(s, curveN)
		kInv := new(big.Int).ModInverse(k, curveN)
		s.Mul(s, kInv)
		s.Mod(s, curveN)
		if s.Sign() == 0 {
			continue
		}
		// The settlement circuit additionally requires w = s^-1 < 2^251.
		w := new(big.Int).ModInverse(s, curveN)
		if w.Cmp(elementBound) >= 0 {
			continue
		}
		return r, s, nil
	}
}

// Verify reports whether (r, s) is a valid signature on msgHash for the public
// point (pubX, pubY).
func Verify(pubX, pubY, msgHash, r, s *big.Int) bool {
	if !onCurve(pubX, pubY) {
		return false
	}
	if r.Sign() <= 0 || r.Cmp(elementBound) >= 0 {
		return false
	}
	if s.Sign() <= 0 || s.Cmp(curveN) >= 0 {
		return false
	}
	if checkMessageHash(msgHash) != nil {
		return false
	}

	w := new(big.Int).ModInverse(s, curveN)
	u1 := new(big.Int).Mul(msgHash, w)
	u1.Mod(u1, curveN)
	u2 := new(big.Int).Mul(r, w)
	u2.Mod(u2, curveN)

	pub := point{x: new(big.Int).Set(pubX), y: new(big.Int).Set(pubY)}
	sum := pointAdd(scalarMul(u1, generator()), scalarMul(u2, pub))
	if sum.infinity {
		return false
	}
	return sum.x.Cmp(r) == 0
}

func checkScalar(priv *big.Int) error {
	if priv == nil || priv.Sign() <= 0 || priv.Cmp(curveN) >= 0 {
		return ErrInvalidScalar
	}
	return nil
}

func checkMessageHash(h *big.Int) error {
	if h == nil || h.Sign() < 0 || h.Cmp(elementBound) >= 0 {
		return ErrInvalidMessageHash
	}
	return nil
}

// nonceGenerator implements the RFC 6979 HMAC_DRBG over the curve order.
type nonceGenerator struct {
	k, v []byte
}

func newNonceGenerator(priv, msgHash *big.Int) *nonceGenerator {
	h1 := int2octets(msgHash)
	x := int2octets(priv)

	g := &nonceGenerator{
		k: make([]byte, 32),
		v: make([]byte, 32),
	}
	for i := range g.v {
		g.v[i] = 0x01
	}

	g.k = hmacSHA256(g.k, g.v, []byte{0x00}, x, h1)
	g.v = hmacSHA256(g.k, g.v)
	g.k = hmacSHA256(g.k, g.v, []byte{0x01}, x, h1)
	g.v = hmacSHA256(g.k, g.v)
	return g
}

// next returns the next candidate nonce in [1, N-1]. Each call advances the
// generator state, so rejected candidates never repeat.
func (g *nonceGenerator) next() *big.Int {
	for {
		g.v = hmacSHA256(g.k, g.v)
		k := bits2int(g.v)

		// Advance state before returning so a retry draws fresh bits.
		g.k = hmacSHA256(g.k, g.v, []byte{0x00})
		g.v = hmacSHA256(g.k, g.v)

		if k.Sign() > 0 && k.Cmp(curveN) < 0 {
			return k
		}
	}
}

func hmacSHA256(key []byte, chunks ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, c := range chunks {
		mac.Write(c)
	}
	return mac.Sum(nil)
}

// bits2int interprets 32 bytes as an integer truncated to the bit length of
// the curve order (252 bits).
func bits2int(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	excess := len(b)*8 - curveN.BitLen()
	if excess > 0 {
		v.Rsh(v, uint(excess))
	}
	return v
}

func int2octets(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}
