package frontend

import "math"

// melFilter is one triangular filter, stored from its first non-zero bin.
type melFilter struct {
	start   int
	weights []float64
}

type melFilterbank []melFilter

// newMelFilterbank spaces n triangular filters evenly on the mel scale
// between low and high Hz.
func newMelFilterbank(n, fftSize, sampleRate int, low, high float64) melFilterbank {
	bins := fftSize/2 + 1
	lowMel, highMel := hzToMel(low), hzToMel(high)
	edges := make([]int, n+2)
	for i := range edges {
		hz := melToHz(lowMel + float64(i)*(highMel-lowMel)/float64(n+1))
		edges[i] = int(math.Floor(hz * float64(fftSize+1) / float64(sampleRate)))
	}

	fb := make(melFilterbank, n)
	for i := range fb {
		left, center, right := edges[i], edges[i+1], min(edges[i+2], bins-1)
		f := melFilter{start: left}
		for j := left; j <= right; j++ {
			var w float64
			switch {
			case j < center:
				w = float64(j-left) / float64(center-left)
			case edges[i+2] > center:
				w = float64(edges[i+2]-j) / float64(edges[i+2]-center)
			}
			f.weights = append(f.weights, w)
		}
		fb[i] = f
	}
	return fb
}

// apply returns the log energies of power under each filter, floored to
// avoid log 0.
func (fb melFilterbank) apply(power []float64) []float64 {
	out := make([]float64, len(fb))
	for i, f := range fb {
		sum := 0.0
		for j, w := range f.weights {
			sum += w * power[f.start+j]
		}
		out[i] = math.Log(max(sum, 1e-30))
	}
	return out
}

// dctTable holds type-II DCT rows.
func dctTable(cepstra, filters int) [][]float64 {
	t := make([][]float64, cepstra)
	for k := range t {
		t[k] = make([]float64, filters)
		for j := range t[k] {
			t[k][j] = math.Cos(math.Pi * float64(k) * (float64(j) + 0.5) / float64(filters))
		}
	}
	return t
}

// lifterTable holds sinusoidal lifter gains.
func lifterTable(cepstra, l int) []float64 {
	g := make([]float64, cepstra)
	for i := range g {
		g[i] = 1 + float64(l)/2*math.Sin(math.Pi*float64(i)/float64(l))
	}
	return g
}
