package label

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ctcTol = 1e-6

// collapse removes repeats and blanks from a frame-level alignment.
func collapse(align []TokenID, blank TokenID) []TokenID {
	var out []TokenID
	prev := TokenID(-1)
	for _, a := range align {
		if a != blank && a != prev {
			out = append(out, a)
		}
		prev = a
	}
	return out
}

// bruteForce sums, over every alignment of the emission matrix, the
// probability of alignments whose labelling has history as a prefix
// (prefix) or equals history (final).
func bruteForce(probs [][]float64, blank TokenID, history []TokenID) (prefix, final float64) {
	T, V := len(probs), len(probs[0])
	align := make([]TokenID, T)
	var rec func(t int, p float64)
	rec = func(t int, p float64) {
		if t == T {
			lab := collapse(align, blank)
			if len(lab) >= len(history) && slices.Equal(lab[:len(history)], history) {
				prefix += p
				if len(lab) == len(history) {
					final += p
				}
			}
			return
		}
		for v := 0; v < V; v++ {
			align[t] = TokenID(v)
			rec(t+1, p*probs[t][v])
		}
	}
	rec(0, 1)
	return prefix, final
}

func newCTCFixture(t *testing.T, probs [][]float64) *CTCPrefix {
	t.Helper()
	sub := NewStepwise(nil)
	s, err := NewCTCPrefix(sub, len(probs[0]), 0, nil)
	require.NoError(t, err)
	s.AddInputs(logFrames(probs...))
	s.SignalNoMoreFeatures()
	return s
}

// walk extends the empty prefix by history and returns the summed
// incremental scores along the way plus the final context.
func walk(t *testing.T, s *CTCPrefix, history []TokenID) (float64, ScoringContext) {
	t.Helper()
	ctx := context.Background()
	c := s.InitialContext()
	total := 0.0
	tr := InitialLabel
	for _, tok := range history {
		r := Request{Context: c, NextToken: tok, Transition: tr}
		st, ok, err := s.ScoreWithTime(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)
		total += st.Score
		c = s.ExtendedContext(r)
		tr = LabelToLabel
	}
	return total, c
}

func TestCTCPrefixTwoFrameScenario(t *testing.T) {
	ctx := context.Background()
	probs := [][]float64{{.5, .3, .2}, {.4, .4, .2}}
	s := newCTCFixture(t, probs)

	empty := s.InitialContext()
	end, ok, err := s.ScoreWithTime(ctx, Request{Context: empty, Transition: SentenceEnd})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, math.Log(.5)+math.Log(.4), end.Score, ctcTol, "blank-blank path")
	assert.Equal(t, 1, end.Timeframe)

	a := Request{Context: empty, NextToken: 1, Transition: InitialLabel}
	ext, ok, err := s.ScoreWithTime(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, math.Log(.3+.5*.4), ext.Score, ctcTol)

	// [a] as the complete labelling: (a,a), (a,blank), (blank,a).
	ca := s.ExtendedContext(a)
	fin, ok, err := s.ScoreWithTime(ctx, Request{Context: ca, Transition: SentenceEnd})
	require.NoError(t, err)
	require.True(t, ok)
	wantPrefix, wantFinal := bruteForce(probs, 0, []TokenID{1})
	assert.InDelta(t, math.Log(.44), math.Log(wantFinal), ctcTol)
	assert.InDelta(t, math.Log(wantPrefix), ext.Score, ctcTol)
	assert.InDelta(t, math.Log(wantFinal), ext.Score+fin.Score, ctcTol)

	table, ready := ca.(*PrefixContext).Table().Peek()
	require.True(t, ready)
	assert.InDelta(t, math.Log(.12), table.At(1).Blank, ctcTol)
	assert.InDelta(t, math.Log(.32), table.At(1).NonBlank, ctcTol)
}

func TestCTCPrefixMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const T, V = 4, 3
	probs := make([][]float64, T)
	for t := range probs {
		row := make([]float64, V)
		sum := 0.0
		for v := range row {
			row[v] = 0.05 + rng.Float64()
			sum += row[v]
		}
		for v := range row {
			row[v] /= sum
		}
		probs[t] = row
	}
	s := newCTCFixture(t, probs)

	histories := [][]TokenID{{}, {1}, {2}, {1, 2}, {1, 1}, {2, 1, 2}, {1, 1, 1}}
	for _, h := range histories {
		wantPrefix, wantFinal := bruteForce(probs, 0, h)
		gotPrefix, c := walk(t, s, h)
		if wantPrefix == 0 {
			assert.True(t, math.IsInf(gotPrefix, -1), "prefix %v", h)
			continue
		}
		assert.InDelta(t, math.Log(wantPrefix), gotPrefix, ctcTol, "prefix %v", h)

		end, ok, err := s.ScoreWithTime(context.Background(), Request{Context: c, Transition: SentenceEnd})
		require.NoError(t, err)
		require.True(t, ok)
		if wantFinal == 0 {
			assert.True(t, math.IsInf(gotPrefix+end.Score, -1), "final %v", h)
			continue
		}
		assert.InDelta(t, math.Log(wantFinal), gotPrefix+end.Score, ctcTol, "final %v", h)
	}
}

func TestCTCPrefixImpossiblePrefix(t *testing.T) {
	// Three labels never fit into two frames.
	s := newCTCFixture(t, [][]float64{{.5, .3, .2}, {.4, .4, .2}})
	got, c := walk(t, s, []TokenID{1, 2})
	assert.InDelta(t, math.Log(.3*.2), got, ctcTol)

	got, c = walk(t, s, []TokenID{1, 2, 1})
	assert.True(t, math.IsInf(got, -1))

	st, ok, err := s.ScoreWithTime(context.Background(), Request{Context: c, NextToken: 2, Transition: LabelToLabel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, math.IsInf(st.Score, -1))
	assert.False(t, math.IsNaN(st.Score))
}

func TestCTCPrefixReadyAtSegmentEnd(t *testing.T) {
	ctx := context.Background()
	sub := NewStepwise(nil)
	s, err := NewCTCPrefix(sub, 3, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ReadyAtSegmentEnd, s.Readiness())

	s.AddInputs(logFrames([]float64{.5, .3, .2}))
	r := Request{Context: s.InitialContext(), NextToken: 1, Transition: InitialLabel}
	_, ok, err := s.ScoreWithTime(ctx, r)
	require.NoError(t, err)
	assert.False(t, ok, "open segment")

	s.SignalNoMoreFeatures()
	got, ok, err := s.ScoreWithTime(ctx, r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, math.Log(.3), got.Score, ctcTol)
}

func TestCTCPrefixNonEmittingTransitions(t *testing.T) {
	ctx := context.Background()
	s := newCTCFixture(t, [][]float64{{.5, .3, .2}})
	c := s.InitialContext()
	for _, tt := range []TransitionType{BlankLoop, LabelToBlank, InitialBlank, LabelLoop} {
		r := Request{Context: c, NextToken: 2, Transition: tt}
		assert.Same(t, c, s.ExtendedContext(r), tt.String())
		st, ok, err := s.ScoreWithTime(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.0, st.Score, tt.String())
	}
	// Emitting the blank token never grows the prefix.
	assert.Same(t, c, s.ExtendedContext(Request{Context: c, NextToken: 0, Transition: LabelToLabel}))
}

func TestCTCPrefixFinalizeIsLazy(t *testing.T) {
	s := newCTCFixture(t, [][]float64{{.5, .3, .2}, {.4, .4, .2}})
	c := s.ExtendedContext(Request{Context: s.InitialContext(), NextToken: 1, Transition: InitialLabel}).(*PrefixContext)
	assert.True(t, c.RequiresFinalize())

	_, ok, err := s.ScoreWithTime(context.Background(), Request{Context: c, NextToken: 2, Transition: LabelToLabel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, c.RequiresFinalize())
}

func TestCTCPrefixBatchMatchesScalar(t *testing.T) {
	ctx := context.Background()
	s := newCTCFixture(t, [][]float64{{.5, .3, .2}, {.4, .4, .2}, {.1, .1, .8}})
	_, c := walk(t, s, []TokenID{2})
	reqs := []Request{
		{Context: c, NextToken: 1, Transition: LabelToLabel},
		{Context: c, NextToken: 2, Transition: LabelToLabel},
		{Context: c, Transition: SentenceEnd},
		{Context: s.InitialContext(), NextToken: 1, Transition: InitialLabel},
	}
	batch, ok, err := s.ScoresWithTimes(ctx, reqs)
	require.NoError(t, err)
	require.True(t, ok)
	for i, r := range reqs {
		one, ok, err := s.ScoreWithTime(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, one, batch.At(i))
	}
}

func TestCTCPrefixResetRejectsOldContexts(t *testing.T) {
	s := newCTCFixture(t, [][]float64{{.5, .3, .2}})
	old := s.InitialContext()
	s.Reset()
	requireContractPanic(t, func() {
		s.ExtendedContext(Request{Context: old, NextToken: 1, Transition: InitialLabel})
	})

	s.AddInputs(logFrames([]float64{.2, .2, .6}))
	s.SignalNoMoreFeatures()
	got, ok, err := s.ScoreWithTime(context.Background(), Request{Context: s.InitialContext(), NextToken: 2, Transition: InitialLabel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, math.Log(.6), got.Score, ctcTol)
}

func TestCTCPrefixEmptySegment(t *testing.T) {
	s, err := NewCTCPrefix(NewStepwise(nil), 3, 0, nil)
	require.NoError(t, err)
	s.SignalNoMoreFeatures()

	ctx := context.Background()
	end, ok, err := s.ScoreWithTime(ctx, Request{Context: s.InitialContext(), Transition: SentenceEnd})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.0, end.Score)

	lab, ok, err := s.ScoreWithTime(ctx, Request{Context: s.InitialContext(), NextToken: 1, Transition: InitialLabel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, math.IsInf(lab.Score, -1))
}

func TestCTCPrefixConfigErrors(t *testing.T) {
	_, err := NewCTCPrefix(NewStepwise(nil), 0, 0, nil)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewCTCPrefix(NewStepwise(nil), 3, 3, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCTCPrefixRejectsNonEmissionSubScorers(t *testing.T) {
	always := newConstScorer(0, 0)
	atEnd := newConstScorer(0, 0)
	atEnd.readiness = ReadyAtSegmentEnd
	for name, sub := range map[string]Scorer{
		"input independent": always,
		"segment end":       atEnd,
		"transition":        NewTransition(NewStepwise(nil), TransitionScores{BlankLoop: -1}),
	} {
		_, err := NewCTCPrefix(sub, 3, 0, nil)
		assert.ErrorIs(t, err, ErrConfig, name)
	}
}

func TestCTCPrefixStopsAtPushedFrames(t *testing.T) {
	// A per-frame sub-scorer that never reports running out of input.
	sub := newConstScorer(math.Log(0.5), 0)
	sub.readiness = ReadyPerFrame
	s, err := NewCTCPrefix(sub, 2, 0, nil)
	require.NoError(t, err)
	s.AddInputs([]Frame{{0}, {0}})
	s.AddInput(Frame{0})
	s.SignalNoMoreFeatures()

	end, ok, err := s.ScoreWithTime(context.Background(), Request{Context: s.InitialContext(), Transition: SentenceEnd})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, s.frames)
	assert.Equal(t, 2, end.Timeframe)
	assert.InDelta(t, 3*math.Log(0.5), end.Score, ctcTol)
}
