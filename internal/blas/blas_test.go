package blas

import (
	"math"
	"math/rand"
	"testing"
)

func approxEqual(a, b float32, tol float64) bool {
	return math.Abs(float64(a)-float64(b)) <= tol
}

func TestSgemm_Small(t *testing.T) {
	// A(2x3) * B(3x2) = C(2x2)
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 8, 9, 10, 11, 12}
	c := make([]float32, 4)

	Sgemm(false, false, 2, 2, 3, 1, a, 3, b, 2, 0, c, 2)

	want := []float32{58, 64, 139, 154}
	for i := range want {
		if !approxEqual(c[i], want[i], 1e-4) {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestSgemm_TransB(t *testing.T) {
	// B is (2x3) row-major, B^T is [[7,8],[9,10],[11,12]]
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 9, 11, 8, 10, 12}
	c := make([]float32, 4)

	Sgemm(false, true, 2, 2, 3, 1, a, 3, b, 3, 0, c, 2)

	want := []float32{58, 64, 139, 154}
	for i := range want {
		if !approxEqual(c[i], want[i], 1e-4) {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestSgemm_AlphaBeta(t *testing.T) {
	// C = 2*A*B + 3*C
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	c := []float32{1, 1, 1, 1}

	Sgemm(false, false, 2, 2, 2, 2, a, 2, b, 2, 3, c, 2)

	want := []float32{41, 47, 89, 103}
	for i := range want {
		if !approxEqual(c[i], want[i], 1e-4) {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestSgemm_ProjectionSized(t *testing.T) {
	// Typical output projection: (16x64) * (64x30)^T with W stored (30x64)
	rng := rand.New(rand.NewSource(42))
	B, F, V := 16, 64, 30

	x := make([]float32, B*F)
	w := make([]float32, V*F)
	for i := range x {
		x[i] = rng.Float32()
	}
	for i := range w {
		w[i] = rng.Float32()
	}

	c := make([]float32, B*V)
	Sgemm(false, true, B, V, F, 1, x, F, w, F, 0, c, V)

	for i := 0; i < B; i++ {
		for j := 0; j < V; j++ {
			var sum float64
			for p := 0; p < F; p++ {
				sum += float64(x[i*F+p]) * float64(w[j*F+p])
			}
			if !approxEqual(c[i*V+j], float32(sum), 1e-3) {
				t.Errorf("c[%d,%d] = %f, want %f", i, j, c[i*V+j], sum)
			}
		}
	}
}

func BenchmarkSgemm_16x64x30(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	B, F, V := 16, 64, 30
	x := make([]float32, B*F)
	w := make([]float32, V*F)
	for i := range x {
		x[i] = rng.Float32()
	}
	for i := range w {
		w[i] = rng.Float32()
	}
	c := make([]float32, B*V)

	b.ResetTimer()
	for b.Loop() {
		Sgemm(false, true, B, V, F, 1, x, F, w, F, 0, c, V)
	}
}
