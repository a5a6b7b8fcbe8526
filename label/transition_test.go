package label

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAdditivity(t *testing.T) {
	ctx := context.Background()
	ts := TransitionScores{
		LabelToLabel: -1, LabelLoop: -2, LabelToBlank: -3, BlankToLabel: -4,
		BlankLoop: -5, InitialLabel: -6, InitialBlank: -7, SentenceEnd: -8,
	}
	sub := NewStepwise(nil)
	sub.AddInputs([]Frame{{-0.5, -0.25}, {-1.5, -1.25}})
	tr := NewTransition(sub, ts)
	assert.Equal(t, ReadyPerFrame, tr.Readiness())

	c0 := tr.InitialContext()
	var reqs []Request
	for _, tt := range AllTransitionTypes() {
		reqs = append(reqs, Request{Context: c0, NextToken: 1, Transition: tt})
	}
	batch, ok, err := tr.ScoresWithTimes(ctx, reqs)
	require.NoError(t, err)
	require.True(t, ok)

	for i, r := range reqs {
		base, ok, err := sub.ScoreWithTime(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)
		got, ok, err := tr.ScoreWithTime(ctx, r)
		require.NoError(t, err)
		require.True(t, ok)

		want := ScoreWithTime{Score: base.Score + ts.For(r.Transition), Timeframe: base.Timeframe}
		assert.Equal(t, want, got, r.Transition.String())
		assert.Equal(t, want, batch.At(i), r.Transition.String())

		assert.Equal(t, sub.ExtendedContext(r), tr.ExtendedContext(r))
	}
}

func TestTransitionNotReadyPassesThrough(t *testing.T) {
	tr := NewTransition(NewStepwise(nil), TransitionScores{BlankLoop: 3})
	_, ok, err := tr.ScoreWithTime(context.Background(), Request{Context: tr.InitialContext(), Transition: BlankLoop})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionScoresUnknownType(t *testing.T) {
	requireContractPanic(t, func() { TransitionScores{}.For(TransitionType(200)) })
}
