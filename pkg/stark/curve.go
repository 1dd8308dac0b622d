package stark

import "math/big"

// Parameters of the settlement layer's elliptic curve
// y^2 = x^3 + alpha*x + beta over the 251-bit prime field.
var (
	// Field prime: 2^251 + 17*2^192 + 1.
	curveP, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
	// Order of the generator point.
	curveN, _    = new(big.Int).SetString("800000000000010ffffffffffffffffb781126dcae7b2321e66a241adc64d2f", 16)
	curveAlpha   = big.NewInt(1)
	curveBeta, _ = new(big.Int).SetString("6f21413efbe40de150e596d72f7a8c5609ad26c15c915c1f4cdfcb99cee9e89", 16)
	genX, _      = new(big.Int).SetString("1ef15c18599971b7beced415a40f0c7deacfd9b0d1819e03d723d8bc943cfca", 16)
	genY, _      = new(big.Int).SetString("5668060aa49730b7be4801df46ec62de53ecd11abe43a32873000c36e8dc1f", 16)

	// Canonical message hashes and signature parts must stay below 2^251.
	elementBound = new(big.Int).Lsh(big.NewInt(1), 251)
)

// Prime returns the field prime. Negative order amounts are mapped into the
// positive residue class modulo this value before hashing.
func Prime() *big.Int {
	return new(big.Int).Set(curveP)
}

// Order returns the order of the curve's generator point.
func Order() *big.Int {
	return new(big.Int).Set(curveN)
}

type point struct {
	x, y     *big.Int
	infinity bool
}

func infinity() point {
	return point{infinity: true}
}

func generator() point {
	return point{x: new(big.Int).Set(genX), y: new(big.Int).Set(genY)}
}

func onCurve(x, y *big.Int) bool {
	// y^2 == x^3 + alpha*x + beta (mod p)
	left := new(big.Int).Mul(y, y)
	left.Mod(left, curveP)

	right := new(big.Int).Mul(x, x)
	right.Mul(right, x)
	right.Add(right, new(big.Int).Mul(curveAlpha, x))
	right.Add(right, curveBeta)
	right.Mod(right, curveP)

	return left.Cmp(right) == 0
}

func pointAdd(a, b point) point {
	if a.infinity {
		return b
	}
	if b.infinity {
		return a
	}
	if a.x.Cmp(b.x) == 0 {
		if a.y.Cmp(b.y) != 0 {
			return infinity()
		}
		return pointDouble(a)
	}

	// slope = (y2 - y1) / (x2 - x1)
	num := new(big.Int).Sub(b.y, a.y)
	den := new(big.Int).Sub(b.x, a.x)
	den.ModInverse(den, curveP)
	slope := num.Mul(num, den)
	slope.Mod(slope, curveP)

	x3 := new(big.Int).Mul(slope, slope)
	x3.Sub(x3, a.x)
	x3.Sub(x3, b.x)
	x3.Mod(x3, curveP)

	y3 := new(big.Int).Sub(a.x, x3)
	y3.Mul(y3, slope)
	y3.Sub(y3, a.y)
	y3.Mod(y3, curveP)

	return point{x: x3, y: y3}
}

func pointDouble(a point) point {
	if a.infinity || a.y.Sign() == 0 {
		return infinity()
	}

	// slope = (3*x^2 + alpha) / (2*y)
	num := new(big.Int).Mul(a.x, a.x)
	num.Mul(num, big.NewInt(3))
	num.Add(num, curveAlpha)
	den := new(big.Int).Lsh(a.y, 1)
	den.ModInverse(den, curveP)
	slope := num.Mul(num, den)
	slope.Mod(slope, curveP)

	x3 := new(big.Int).Mul(slope, slope)
	x3.Sub(x3, new(big.Int).Lsh(a.x, 1))
	x3.Mod(x3, curveP)

	y3 := new(big.Int).Sub(a.x, x3)
	y3.Mul(y3, slope)
	y3.Sub(y3, a.y)
	y3.Mod(y3, curveP)

	return point{x: x3, y: y3}
}

func scalarMul(k *big.Int, p point) point {
	acc := infinity()
	for i := k.BitLen() - 1; i >= 0; i-- {
		acc = pointDouble(acc)
		if k.Bit(i) == 1 {
			acc = pointAdd(acc, p)
		}
	}
	return acc
}
