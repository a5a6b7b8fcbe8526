package language

import (
	"context"
	"log/slog"

	"github.com/ieee0824/labelscore/label"
)

// Scorer applies a Model label-synchronously. Only label-emitting
// transitions pay a language model cost; blanks and loops score 0. Input
// frames are accepted and dropped, so the scorer is always ready.
type Scorer struct {
	*label.Buffered
	model *Model
}

// NewScorer wraps model.
func NewScorer(model *Model, logger *slog.Logger) *Scorer {
	s := &Scorer{Buffered: label.NewBuffered("ngram", logger), model: model}
	s.OnAddInputs(func(int) { s.Inputs.DiscardBefore(s.Inputs.Len()) })
	return s
}

// Model returns the wrapped model.
func (s *Scorer) Model() *Model { return s.model }

func (s *Scorer) Readiness() label.Readiness { return label.ReadyAlways }

// InitialContext holds <s>, or nothing for a unigram model.
func (s *Scorer) InitialContext() label.ScoringContext {
	var h []label.TokenID
	if s.model.order > 1 {
		h = []label.TokenID{s.model.bos}
	}
	return label.NewSeqStepContext(s.Epoch(), h, 0)
}

func (s *Scorer) seqContext(c label.ScoringContext) *label.SeqStepContext {
	sc, ok := c.(*label.SeqStepContext)
	if !ok {
		label.Contractf("ngram: unexpected context %T", c)
	}
	s.CheckEpoch(sc.Epoch())
	return sc
}

func (s *Scorer) checkToken(tok label.TokenID) {
	if tok < 0 || int(tok) >= s.model.vocab.Len() {
		label.Contractf("ngram: token %d outside vocabulary of %d", tok, s.model.vocab.Len())
	}
}

// ExtendedContext keeps the last order-1 tokens. Non-emitting transitions
// return the same context.
func (s *Scorer) ExtendedContext(r label.Request) label.ScoringContext {
	if !r.Transition.Valid() {
		label.Contractf("ngram: transition %d", r.Transition)
	}
	sc := s.seqContext(r.Context)
	if !r.Transition.EmitsLabel() || s.model.order == 1 {
		return r.Context
	}
	s.checkToken(r.NextToken)
	h := label.AppendToken(sc.History(), r.NextToken)
	if n := s.model.order - 1; len(h) > n {
		h = h[len(h)-n:]
	}
	return label.NewSeqStepContext(sc.Epoch(), h, 0)
}

// ScoreWithTime scores the emitted token, or </s> for sentence end. The
// timeframe is always 0: the model never looks at the input.
func (s *Scorer) ScoreWithTime(_ context.Context, r label.Request) (label.ScoreWithTime, bool, error) {
	if !r.Transition.Valid() {
		label.Contractf("ngram: transition %d", r.Transition)
	}
	sc := s.seqContext(r.Context)
	switch {
	case r.Transition == label.SentenceEnd:
		return label.ScoreWithTime{Score: s.model.LogProb(sc.History(), s.model.eos)}, true, nil
	case r.Transition.EmitsLabel():
		s.checkToken(r.NextToken)
		return label.ScoreWithTime{Score: s.model.LogProb(sc.History(), r.NextToken)}, true, nil
	}
	return label.ScoreWithTime{}, true, nil
}

func (s *Scorer) ScoresWithTimes(ctx context.Context, rs []label.Request) (label.ScoresWithTimes, bool, error) {
	return label.ScoreEach(ctx, s, rs)
}

// CleanupCaches is a no-op: the scorer keeps no per-context state.
func (s *Scorer) CleanupCaches([]label.ScoringContext) {}
