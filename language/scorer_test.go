package language

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/labelscore/label"
)

func TestScorerContexts(t *testing.T) {
	model, ids := loadTestModel(t)
	s := NewScorer(model, nil)

	root := s.InitialContext().(*label.SeqStepContext)
	assert.Equal(t, []label.TokenID{model.BOS()}, root.History())

	c := s.ExtendedContext(label.Request{Context: root, NextToken: ids["東京"], Transition: label.InitialLabel})
	assert.Equal(t, []label.TokenID{ids["東京"]}, c.(*label.SeqStepContext).History())

	for _, tr := range []label.TransitionType{label.LabelLoop, label.BlankLoop, label.LabelToBlank, label.InitialBlank, label.SentenceEnd} {
		assert.Same(t, c, s.ExtendedContext(label.Request{Context: c, NextToken: ids["タワー"], Transition: tr}), tr.String())
	}
}

func TestScorerScores(t *testing.T) {
	ctx := context.Background()
	model, ids := loadTestModel(t)
	s := NewScorer(model, nil)
	assert.Equal(t, label.ReadyAlways, s.Readiness())

	root := s.InitialContext()
	tokyo := s.ExtendedContext(label.Request{Context: root, NextToken: ids["東京"], Transition: label.InitialLabel})
	tower := s.ExtendedContext(label.Request{Context: tokyo, NextToken: ids["タワー"], Transition: label.LabelToLabel})

	got, ok, err := s.ScoresWithTimes(ctx, []label.Request{
		{Context: root, NextToken: ids["東京"], Transition: label.InitialLabel},
		{Context: tokyo, NextToken: ids["タワー"], Transition: label.LabelToLabel},
		{Context: tower, Transition: label.SentenceEnd},
		{Context: tower, NextToken: ids["タワー"], Transition: label.LabelLoop},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{-0.3 * math.Ln10, -0.4 * math.Ln10, -0.2 * math.Ln10, 0}, got.Scores, 1e-10)
	assert.True(t, got.Broadcast())
	assert.Equal(t, 0, got.TimeframeAt(0))
}

func TestScorerIgnoresInput(t *testing.T) {
	model, _ := loadTestModel(t)
	s := NewScorer(model, nil)
	s.AddInputs(label.SplitFrames([]float32{1, 2, 3, 4}, 2))
	assert.Equal(t, 0, s.Inputs.Buffered())
	assert.Equal(t, 2, s.Inputs.Len())
}

func TestScorerContractViolations(t *testing.T) {
	model, _ := loadTestModel(t)
	s := NewScorer(model, nil)
	root := s.InitialContext()

	assert.Panics(t, func() {
		s.ExtendedContext(label.Request{Context: root, NextToken: 99, Transition: label.InitialLabel})
	})
	assert.Panics(t, func() {
		s.ExtendedContext(label.Request{Context: label.NewStepContext(s.Epoch(), 0), Transition: label.InitialLabel})
	})
	s.Reset()
	assert.Panics(t, func() {
		_, _, _ = s.ScoreWithTime(context.Background(), label.Request{Context: root, Transition: label.SentenceEnd})
	})
}

func TestUnigramScorerKeepsEmptyHistory(t *testing.T) {
	vocab := NewVocabulary("a")
	model := NewModel(1, vocab)
	model.Add([]label.TokenID{0}, math.Log(0.25), 0)
	s := NewScorer(model, nil)
	root := s.InitialContext()
	assert.Empty(t, root.(*label.SeqStepContext).History())
	assert.Same(t, root, s.ExtendedContext(label.Request{Context: root, NextToken: 0, Transition: label.InitialLabel}))

	got, ok, err := s.ScoreWithTime(context.Background(), label.Request{Context: root, NextToken: 0, Transition: label.InitialLabel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, math.Log(0.25), got.Score, 1e-12)
}
