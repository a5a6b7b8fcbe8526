package label

import (
	"context"
	"log/slog"
)

// Stepwise scores by direct lookup: each input frame already is a vector of
// per-token log-probabilities, and the context is just the current frame.
type Stepwise struct {
	*Buffered
}

// NewStepwise returns a lookup scorer.
func NewStepwise(logger *slog.Logger) *Stepwise {
	return &Stepwise{Buffered: NewBuffered("stepwise", logger)}
}

// Readiness is ReadyPerFrame.
func (s *Stepwise) Readiness() Readiness { return ReadyPerFrame }

// InitialContext is positioned at the first frame.
func (s *Stepwise) InitialContext() ScoringContext {
	return NewStepContext(s.Epoch(), 0)
}

func (s *Stepwise) stepContext(c ScoringContext) *StepContext {
	sc, ok := c.(*StepContext)
	if !ok {
		contractf("stepwise: unexpected context %T", c)
	}
	s.CheckEpoch(sc.Epoch())
	return sc
}

// ExtendedContext advances one frame regardless of the transition.
func (s *Stepwise) ExtendedContext(r Request) ScoringContext {
	r.Transition.mustValid()
	sc := s.stepContext(r.Context)
	return NewStepContext(sc.Epoch(), sc.Step()+1)
}

// ScoreWithTime reads frame[step][token]. Sentence end past the last frame
// of a closed segment scores 0.
func (s *Stepwise) ScoreWithTime(_ context.Context, r Request) (ScoreWithTime, bool, error) {
	r.Transition.mustValid()
	sc := s.stepContext(r.Context)
	f, ok := s.Inputs.At(sc.Step())
	if !ok {
		if r.Transition == SentenceEnd && !s.ExpectMoreFeatures() {
			return ScoreWithTime{Score: 0, Timeframe: sc.Step()}, true, nil
		}
		return ScoreWithTime{}, false, nil
	}
	if int(r.NextToken) < 0 || int(r.NextToken) >= len(f) {
		contractf("stepwise: token %d outside frame of %d scores", r.NextToken, len(f))
	}
	return ScoreWithTime{Score: float64(f[r.NextToken]), Timeframe: sc.Step()}, true, nil
}

// ScoresWithTimes looks up every request on its own.
func (s *Stepwise) ScoresWithTimes(ctx context.Context, rs []Request) (ScoresWithTimes, bool, error) {
	return ScoreEach(ctx, s, rs)
}

// CleanupCaches drops frames before the earliest active step.
func (s *Stepwise) CleanupCaches(active []ScoringContext) {
	if m, ok := MinActiveIndex(active, func(c ScoringContext) TimeIndex {
		return s.stepContext(c).Step()
	}); ok {
		s.DiscardBefore(m)
	}
}

// MinActiveIndex returns the smallest input index over active contexts as
// read by index. ok is false for an empty active set, in which case callers
// keep their input.
func MinActiveIndex(active []ScoringContext, index func(ScoringContext) TimeIndex) (TimeIndex, bool) {
	if len(active) == 0 {
		return 0, false
	}
	m := index(active[0])
	for _, c := range active[1:] {
		m = min(m, index(c))
	}
	return m, true
}
