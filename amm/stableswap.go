package amm

import (
	"github.com/Kuzirashi/nxtp/common/errors"
	"github.com/holiman/uint256"
)

// maxIterations bounds the Newton iterations for the invariant solvers.
const maxIterations = 255

// solveD computes the stable-swap invariant D for the given normalized
// balances and amplification coefficient. Converges when successive
// iterations differ by at most 1.
func solveD(xp []*uint256.Int, amp uint64) (*uint256.Int, error) {
	n := uint64(len(xp))
	nU := uint256.NewInt(n)

	s := new(uint256.Int)
	for _, x := range xp {
		s.Add(s, x)
	}
	if s.IsZero() {
		return new(uint256.Int), nil
	}

	d := new(uint256.Int).Set(s)
	ann := uint256.NewInt(amp * n)
	one := uint256.NewInt(1)

	for i := 0; i < maxIterations; i++ {
		dp := new(uint256.Int).Set(d)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Div(dp, new(uint256.Int).Mul(x, nU))
		}

		dPrev := new(uint256.Int).Set(d)

		// d = (ann*s + dp*n) * d / ((ann-1)*d + (n+1)*dp)
		num := new(uint256.Int).Mul(ann, s)
		num.Add(num, new(uint256.Int).Mul(dp, nU))
		num.Mul(num, d)

		den := new(uint256.Int).Sub(ann, one)
		den.Mul(den, d)
		den.Add(den, new(uint256.Int).Mul(new(uint256.Int).Add(nU, one), dp))

		d.Div(num, den)

		if withinOne(d, dPrev) {
			return d, nil
		}
	}

	return nil, errors.New(errors.KindParamsInvalid, "invariant computation did not converge")
}

// solveY computes the output-side balance that preserves the invariant
// after the input-side balance moves to x.
func solveY(inputIdx, outputIdx int, x *uint256.Int, xp []*uint256.Int, amp uint64) (*uint256.Int, error) {
	d, err := solveD(xp, amp)
	if err != nil {
		return nil, err
	}

	n := uint64(len(xp))
	nU := uint256.NewInt(n)
	ann := uint256.NewInt(amp * n)

	c := new(uint256.Int).Set(d)
	s := new(uint256.Int)
	for k := range xp {
		var xk *uint256.Int
		switch {
		case k == inputIdx:
			xk = x
		case k != outputIdx:
			xk = xp[k]
		default:
			continue
		}
		s.Add(s, xk)
		c.Mul(c, d)
		c.Div(c, new(uint256.Int).Mul(xk, nU))
	}
	c.Mul(c, d)
	c.Div(c, new(uint256.Int).Mul(ann, nU))

	b := new(uint256.Int).Div(d, ann)
	b.Add(b, s)

	y := new(uint256.Int).Set(d)
	for i := 0; i < maxIterations; i++ {
		yPrev := new(uint256.Int).Set(y)

		// y = (y*y + c) / (2y + b - d)
		num := new(uint256.Int).Mul(y, y)
		num.Add(num, c)

		den := new(uint256.Int).Add(y, y)
		den.Add(den, b)
		den.Sub(den, d)

		y.Div(num, den)

		if withinOne(y, yPrev) {
			return y, nil
		}
	}

	return nil, errors.New(errors.KindParamsInvalid, "output balance computation did not converge")
}

// constantProduct prices a two-asset swap on x*y=k without amplification.
func constantProduct(x, inputBalance, outputBalance *uint256.Int) *uint256.Int {
	// dy = outputBalance * x / (inputBalance + x)
	dy := new(uint256.Int).Mul(outputBalance, x)
	dy.Div(dy, new(uint256.Int).Add(inputBalance, x))
	return dy
}

func withinOne(a, b *uint256.Int) bool {
	diff := new(uint256.Int)
	if a.Gt(b) {
		diff.Sub(a, b)
	} else {
		diff.Sub(b, a)
	}
	return diff.LtUint64(2)
}
