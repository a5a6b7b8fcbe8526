//go:build !darwin || !cgo

package blas

// Sgemm performs C = alpha*op(A)*op(B) + beta*C in single precision.
// All matrices are row-major; op(X) is X^T when trans is set.
// Accumulation is done in float64 so that results match the Accelerate
// path closely enough for score comparison in tests.
func Sgemm(transA, transB bool, m, n, k int,
	alpha float32, a []float32, lda int,
	b []float32, ldb int,
	beta float32, c []float32, ldc int) {

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for p := 0; p < k; p++ {
				var av, bv float32
				if transA {
					av = a[p*lda+i]
				} else {
					av = a[i*lda+p]
				}
				if transB {
					bv = b[j*ldb+p]
				} else {
					bv = b[p*ldb+j]
				}
				sum += float64(av) * float64(bv)
			}
			out := float64(alpha) * sum
			if beta != 0 {
				out += float64(beta) * float64(c[i*ldc+j])
			}
			c[i*ldc+j] = float32(out)
		}
	}
}

// HasAccelerate returns false on non-darwin platforms.
func HasAccelerate() bool { return false }
