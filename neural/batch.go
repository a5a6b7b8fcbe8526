// Package neural implements label scorers backed by an inference engine:
// per-frame, fixed-history and hidden-state models. All of them collapse
// identical contexts before running the engine and keep the resulting score
// vectors in a FIFO cache.
package neural

import (
	"context"
	"fmt"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/internal/fifo"
	"github.com/ieee0824/labelscore/label"
)

// BatchConfig bounds engine batches and the score cache.
type BatchConfig struct {
	MaxBatchSize    int `yaml:"max-batch-size" validate:"gt=0"`
	MaxCachedScores int `yaml:"max-cached-scores" validate:"gte=0"`
}

// DefaultBatchConfig matches the sizes used in production recipes.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxBatchSize: 64, MaxCachedScores: 1000}
}

func (c BatchConfig) validate(scorer string) error {
	if c.MaxBatchSize <= 0 {
		return label.Configf("%s: max batch size %d", scorer, c.MaxBatchSize)
	}
	if c.MaxCachedScores < 0 {
		return label.Configf("%s: max cached scores %d", scorer, c.MaxCachedScores)
	}
	return nil
}

type scoreCache = fifo.Cache[label.ScoringContext, []float32]

func newScoreCache(name string, capacity int) *scoreCache {
	return fifo.New[label.ScoringContext, []float32](name, capacity)
}

// resultSet holds the score vectors computed during one call, so that cache
// eviction in the middle of a large batch cannot lose them.
type resultSet struct {
	byHash map[uint64][]scored
}

type scored struct {
	ctx    label.ScoringContext
	scores []float32
}

func newResultSet() *resultSet { return &resultSet{byHash: make(map[uint64][]scored)} }

func (r *resultSet) get(c label.ScoringContext) ([]float32, bool) {
	for _, s := range r.byHash[c.Hash()] {
		if s.ctx.Equal(c) {
			return s.scores, true
		}
	}
	return nil, false
}

func (r *resultSet) put(c label.ScoringContext, scores []float32) {
	h := c.Hash()
	r.byHash[h] = append(r.byHash[h], scored{ctx: c, scores: scores})
}

// collect looks every context up in the call-local results first and the
// cache second. Contexts found in neither are returned, deduplicated, in
// first-seen order.
func collect[C label.ScoringContext](ctx context.Context, cs []C, cache *scoreCache, results *resultSet) []C {
	var missing []C
	pending := newResultSet()
	for _, c := range cs {
		if _, ok := results.get(c); ok {
			continue
		}
		if _, ok := pending.get(c); ok {
			continue
		}
		if v, ok := cache.Get(ctx, c); ok {
			results.put(c, v)
			continue
		}
		pending.put(c, nil)
		missing = append(missing, c)
	}
	return missing
}

// chunk splits xs into runs of at most n.
func chunk[T any](xs []T, n int) [][]T {
	var out [][]T
	for len(xs) > n {
		out = append(out, xs[:n:n])
		xs = xs[n:]
	}
	if len(xs) > 0 {
		out = append(out, xs)
	}
	return out
}

// pastEnd reports whether r is a sentence end beyond the input of a closed
// segment. Such requests score 0 without running the model.
func pastEnd(b *label.Buffered, r label.Request) bool {
	return r.Transition == label.SentenceEnd && !b.ExpectMoreFeatures()
}

// tokenScore reads the score of tok out of a score vector.
func tokenScore(scores []float32, tok label.TokenID) float64 {
	if tok < 0 || int(tok) >= len(scores) {
		label.Contractf("token %d outside score vector of %d", tok, len(scores))
	}
	return float64(scores[tok])
}

// storeRows splits a [B, V] score tensor into per-context vectors.
func storeRows[C label.ScoringContext](ctx context.Context, out *engine.Tensor, batch []C, cache *scoreCache, results *resultSet) error {
	if out.DType != engine.Float32 || out.BatchSize() != len(batch) {
		return fmt.Errorf("scores: want float32 [%d, V], got %s %v", len(batch), out.DType, out.Shape)
	}
	for b, c := range batch {
		row := out.RowFloat32(b)
		results.put(c, row)
		cache.Put(ctx, c, row)
	}
	return nil
}

func configErr(scorer string, err error) error {
	return fmt.Errorf("%w: %s: %w", label.ErrConfig, scorer, err)
}
