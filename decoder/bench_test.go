package decoder

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ieee0824/labelscore/label"
)

func BenchmarkDecodeStepwise(b *testing.B) {
	const (
		frames = 500
		vocab  = 64
	)
	rng := rand.New(rand.NewSource(1))
	best := make([]label.TokenID, frames)
	for i := range best {
		best[i] = label.TokenID(rng.Intn(vocab))
	}
	input := peakedFrames(best, vocab, 0.6)
	cfg := ctcConfig(vocab)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(ctx, label.NewStepwise(nil), input, cfg); err != nil {
			b.Fatal(err)
		}
	}
}
