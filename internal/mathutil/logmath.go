package mathutil

import "math"

// LogZero represents log(0). It is a true negative infinity so that
// impossible paths survive additions and compare below every finite score.
var LogZero = math.Inf(-1)

// IsLogZero reports whether x represents log(0).
func IsLogZero(x float64) bool { return math.IsInf(x, -1) }

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// The smaller operand is skipped once it falls below float64 precision
// (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(b, -1) {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}
