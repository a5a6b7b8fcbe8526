package label

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Combine scores a request as the weighted sum of its sub-scorers' scores.
// All sub-scorers must share one vocabulary and transition semantics.
type Combine struct {
	subs     []Scorer
	scales   []float64
	parallel bool
}

// CombineOption configures a Combine.
type CombineOption func(*Combine)

// CombineParallel scores the sub-scorers of a batch concurrently. Every
// sub-scorer must be a distinct instance.
func CombineParallel(on bool) CombineOption {
	return func(c *Combine) { c.parallel = on }
}

// NewCombine wraps subs with one scale per sub-scorer.
func NewCombine(subs []Scorer, scales []float64, opts ...CombineOption) (*Combine, error) {
	if len(subs) == 0 {
		return nil, Configf("combine: no sub-scorers")
	}
	if len(scales) != len(subs) {
		return nil, Configf("combine: %d scales for %d sub-scorers", len(scales), len(subs))
	}
	c := &Combine{subs: subs, scales: scales}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Reset resets every sub-scorer.
func (c *Combine) Reset() {
	for _, s := range c.subs {
		s.Reset()
	}
}

// SignalNoMoreFeatures closes the input of every sub-scorer.
func (c *Combine) SignalNoMoreFeatures() {
	for _, s := range c.subs {
		s.SignalNoMoreFeatures()
	}
}

// AddInput pushes the frame to every sub-scorer.
func (c *Combine) AddInput(f Frame) {
	for _, s := range c.subs {
		s.AddInput(f)
	}
}

// AddInputs pushes the same frames to every sub-scorer.
func (c *Combine) AddInputs(fs []Frame) {
	for _, s := range c.subs {
		s.AddInputs(fs)
	}
}

// Readiness is the strictest policy among the sub-scorers.
func (c *Combine) Readiness() Readiness {
	r := ReadyAlways
	for _, s := range c.subs {
		r = Stricter(r, s.Readiness())
	}
	return r
}

// InitialContext combines the sub-scorers' initial contexts.
func (c *Combine) InitialContext() ScoringContext {
	subs := make([]ScoringContext, len(c.subs))
	for i, s := range c.subs {
		subs[i] = s.InitialContext()
	}
	return NewCombineContext(subs)
}

func (c *Combine) combineContext(sc ScoringContext) *CombineContext {
	cc, ok := sc.(*CombineContext)
	if !ok {
		contractf("combine: unexpected context %T", sc)
	}
	if len(cc.subs) != len(c.subs) {
		contractf("combine: context has %d sub-contexts, scorer has %d", len(cc.subs), len(c.subs))
	}
	return cc
}

// weighted drops a zero-scaled term so that a -Inf score does not turn the
// sum into NaN.
func weighted(scale, score float64) float64 {
	if scale == 0 {
		return 0
	}
	return scale * score
}

func subRequest(r Request, sub ScoringContext) Request {
	return Request{Context: sub, NextToken: r.NextToken, Transition: r.Transition}
}

// ExtendedContext extends every sub-context. When no sub-context changes
// the original context is returned.
func (c *Combine) ExtendedContext(r Request) ScoringContext {
	cc := c.combineContext(r.Context)
	var subs []ScoringContext
	for i, s := range c.subs {
		ext := s.ExtendedContext(subRequest(r, cc.subs[i]))
		if subs == nil && ext != cc.subs[i] {
			subs = make([]ScoringContext, len(cc.subs))
			copy(subs, cc.subs[:i])
		}
		if subs != nil {
			subs[i] = ext
		}
	}
	if subs == nil {
		return r.Context
	}
	return NewCombineContext(subs)
}

// ScoreWithTime is the weighted sum of the sub-scores at the latest of
// their timeframes. It is not ready until every sub-scorer is.
func (c *Combine) ScoreWithTime(ctx context.Context, r Request) (ScoreWithTime, bool, error) {
	cc := c.combineContext(r.Context)
	var out ScoreWithTime
	for i, s := range c.subs {
		st, ok, err := s.ScoreWithTime(ctx, subRequest(r, cc.subs[i]))
		if err != nil {
			return ScoreWithTime{}, false, fmt.Errorf("combine sub-scorer %d: %w", i, err)
		}
		if !ok {
			return ScoreWithTime{}, false, nil
		}
		out.Score += weighted(c.scales[i], st.Score)
		out.Timeframe = max(out.Timeframe, st.Timeframe)
	}
	return out, true, nil
}

// ScoresWithTimes hands the whole batch to each sub-scorer, concurrently
// when CombineParallel is on.
func (c *Combine) ScoresWithTimes(ctx context.Context, rs []Request) (ScoresWithTimes, bool, error) {
	if len(rs) == 0 {
		return ScoresWithTimes{}, true, nil
	}
	ccs := make([]*CombineContext, len(rs))
	for j, r := range rs {
		ccs[j] = c.combineContext(r.Context)
	}

	results := make([]ScoresWithTimes, len(c.subs))
	ready := make([]bool, len(c.subs))
	scoreSub := func(ctx context.Context, i int) error {
		subReqs := make([]Request, len(rs))
		for j, r := range rs {
			subReqs[j] = subRequest(r, ccs[j].subs[i])
		}
		res, ok, err := c.subs[i].ScoresWithTimes(ctx, subReqs)
		if err != nil {
			return fmt.Errorf("combine sub-scorer %d: %w", i, err)
		}
		results[i], ready[i] = res, ok
		return nil
	}

	if c.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i := range c.subs {
			g.Go(func() error { return scoreSub(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return ScoresWithTimes{}, false, err
		}
	} else {
		for i := range c.subs {
			if err := scoreSub(ctx, i); err != nil {
				return ScoresWithTimes{}, false, err
			}
			if !ready[i] {
				return ScoresWithTimes{}, false, nil
			}
		}
	}
	for _, ok := range ready {
		if !ok {
			return ScoresWithTimes{}, false, nil
		}
	}

	scores := make([]float64, len(rs))
	times := make([]TimeIndex, len(rs))
	for i, res := range results {
		for j := range rs {
			scores[j] += weighted(c.scales[i], res.Scores[j])
			times[j] = max(times[j], res.TimeframeAt(j))
		}
	}
	return NewScoresWithTimes(scores, times), true, nil
}

// CleanupCaches hands each sub-scorer its projection of the active set.
func (c *Combine) CleanupCaches(active []ScoringContext) {
	ccs := make([]*CombineContext, len(active))
	for j, a := range active {
		ccs[j] = c.combineContext(a)
	}
	for i, s := range c.subs {
		subs := make([]ScoringContext, len(active))
		for j, cc := range ccs {
			subs[j] = cc.subs[i]
		}
		s.CleanupCaches(subs)
	}
}
