package label

import "context"

// TransitionScores holds one additive constant per transition type.
type TransitionScores struct {
	LabelToLabel float64 `yaml:"label-to-label"`
	LabelLoop    float64 `yaml:"label-loop"`
	LabelToBlank float64 `yaml:"label-to-blank"`
	BlankToLabel float64 `yaml:"blank-to-label"`
	BlankLoop    float64 `yaml:"blank-loop"`
	InitialLabel float64 `yaml:"initial-label"`
	InitialBlank float64 `yaml:"initial-blank"`
	SentenceEnd  float64 `yaml:"sentence-end"`
}

// For returns the constant configured for t.
func (ts TransitionScores) For(t TransitionType) float64 {
	switch t {
	case LabelToLabel:
		return ts.LabelToLabel
	case LabelLoop:
		return ts.LabelLoop
	case LabelToBlank:
		return ts.LabelToBlank
	case BlankToLabel:
		return ts.BlankToLabel
	case BlankLoop:
		return ts.BlankLoop
	case InitialLabel:
		return ts.InitialLabel
	case InitialBlank:
		return ts.InitialBlank
	case SentenceEnd:
		return ts.SentenceEnd
	}
	contractf("unknown transition type %d", uint8(t))
	return 0
}

// Transition adds a per-transition-type constant to the scores of a wrapped
// scorer. Everything else is delegated unchanged.
type Transition struct {
	Scorer
	scores TransitionScores
}

// NewTransition wraps sub.
func NewTransition(sub Scorer, scores TransitionScores) *Transition {
	return &Transition{Scorer: sub, scores: scores}
}

// ScoreWithTime adds the constant of the request's transition type.
func (t *Transition) ScoreWithTime(ctx context.Context, r Request) (ScoreWithTime, bool, error) {
	st, ok, err := t.Scorer.ScoreWithTime(ctx, r)
	if err != nil || !ok {
		return st, ok, err
	}
	st.Score += t.scores.For(r.Transition)
	return st, true, nil
}

// ScoresWithTimes adds each request's transition constant to the batch.
func (t *Transition) ScoresWithTimes(ctx context.Context, rs []Request) (ScoresWithTimes, bool, error) {
	res, ok, err := t.Scorer.ScoresWithTimes(ctx, rs)
	if err != nil || !ok {
		return res, ok, err
	}
	shifted := make([]float64, len(res.Scores))
	for i, r := range rs {
		shifted[i] = res.Scores[i] + t.scores.For(r.Transition)
	}
	res.Scores = shifted
	return res, true, nil
}
