package lending

import "github.com/holiman/uint256"

var (
	// expScale is the 1e18 mantissa scale of fixed-point values.
	expScale = uint256.NewInt(1_000_000_000_000_000_000)
	// doubleScale is the 1e36 scale used by reward indices.
	doubleScale = new(uint256.Int).Mul(expScale, expScale)

	mantissaOne = expScale
)

// Mantissa returns the 1e18-scaled fixed-point representation of num/den.
// It panics on a zero denominator and is intended for constants and tests.
func Mantissa(num, den uint64) *uint256.Int {
	if den == 0 {
		panic("lending: zero denominator")
	}
	v := new(uint256.Int).Mul(uint256.NewInt(num), expScale)
	return v.Div(v, uint256.NewInt(den))
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// arith evaluates a chain of checked fixed-point operations. The first
// overflow, underflow or division by zero is recorded and every later
// operation returns zero, so callers check err once at the end.
type arith struct {
	err error
}

func (a *arith) fail() *uint256.Int {
	if a.err == nil {
		a.err = ErrMathOverflow
	}
	return new(uint256.Int)
}

func (a *arith) add(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return a.fail()
	}
	return z
}

func (a *arith) sub(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return a.fail()
	}
	return z
}

func (a *arith) mul(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return a.fail()
	}
	return z
}

func (a *arith) div(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	if y.IsZero() {
		return a.fail()
	}
	return new(uint256.Int).Div(x, y)
}

// mulExp multiplies two mantissas, truncating back to scale.
func (a *arith) mulExp(x, y *uint256.Int) *uint256.Int {
	return a.div(a.mul(x, y), expScale)
}

// mulScalarTruncate multiplies a mantissa by a scalar and truncates to an
// integer.
func (a *arith) mulScalarTruncate(exp, scalar *uint256.Int) *uint256.Int {
	return a.div(a.mul(exp, scalar), expScale)
}

func (a *arith) mulScalarTruncateAdd(exp, scalar, addend *uint256.Int) *uint256.Int {
	return a.add(a.mulScalarTruncate(exp, scalar), addend)
}

// divExp divides two values and returns the quotient as a mantissa. It is
// also used to divide a scalar by a mantissa.
func (a *arith) divExp(x, y *uint256.Int) *uint256.Int {
	return a.div(a.mul(x, expScale), y)
}

// fraction returns x/y at double scale.
func (a *arith) fraction(x, y *uint256.Int) *uint256.Int {
	return a.div(a.mul(x, doubleScale), y)
}

// mulDouble multiplies a scalar by a double-scale value, truncating.
func (a *arith) mulDouble(x, double *uint256.Int) *uint256.Int {
	return a.div(a.mul(x, double), doubleScale)
}
