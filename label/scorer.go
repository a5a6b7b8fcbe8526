package label

import (
	"context"
	"fmt"
)

// Readiness declares when a scorer can answer requests.
type Readiness uint8

const (
	// ReadyAlways scorers do not depend on input at all.
	ReadyAlways Readiness = iota
	// ReadyPerFrame scorers answer as soon as the requested timestep is buffered.
	ReadyPerFrame
	// ReadyAtSegmentEnd scorers answer only after SignalNoMoreFeatures.
	ReadyAtSegmentEnd
)

func (r Readiness) String() string {
	switch r {
	case ReadyAlways:
		return "always"
	case ReadyPerFrame:
		return "per-frame"
	case ReadyAtSegmentEnd:
		return "segment-end"
	}
	return fmt.Sprintf("Readiness(%d)", uint8(r))
}

// Scorer is the contract every scoring strategy implements. The search
// algorithm only ever talks to this interface.
//
// A false ok from ScoreWithTime or ScoresWithTimes means "not ready": more
// input has to be pushed (or the segment closed) before asking again.
type Scorer interface {
	// Reset drops all input and caches and starts a new segment.
	// Contexts from before the reset become invalid.
	Reset()
	// SignalNoMoreFeatures closes the input stream of the current segment.
	SignalNoMoreFeatures()
	AddInput(f Frame)
	AddInputs(fs []Frame)

	InitialContext() ScoringContext
	// ExtendedContext is a pure bookkeeping step; it never runs inference.
	ExtendedContext(r Request) ScoringContext

	ScoreWithTime(ctx context.Context, r Request) (ScoreWithTime, bool, error)
	ScoresWithTimes(ctx context.Context, rs []Request) (ScoresWithTimes, bool, error)

	// CleanupCaches releases input and cached scores no context in active
	// can reach anymore.
	CleanupCaches(active []ScoringContext)

	Readiness() Readiness
}

// ScoreEach implements the batched call as a loop over the scalar one.
func ScoreEach(ctx context.Context, s Scorer, rs []Request) (ScoresWithTimes, bool, error) {
	scores := make([]float64, len(rs))
	times := make([]TimeIndex, len(rs))
	for i, r := range rs {
		st, ok, err := s.ScoreWithTime(ctx, r)
		if err != nil || !ok {
			return ScoresWithTimes{}, ok, err
		}
		scores[i] = st.Score
		times[i] = st.Timeframe
	}
	return NewScoresWithTimes(scores, times), true, nil
}

// ScoreOne implements the scalar call on top of the batched one.
func ScoreOne(ctx context.Context, s Scorer, r Request) (ScoreWithTime, bool, error) {
	res, ok, err := s.ScoresWithTimes(ctx, []Request{r})
	if err != nil || !ok {
		return ScoreWithTime{}, ok, err
	}
	return res.At(0), true, nil
}

// Stricter returns the more demanding of two readiness policies.
func Stricter(a, b Readiness) Readiness {
	return max(a, b)
}
