package neural

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/engine/linear"
	"github.com/ieee0824/labelscore/label"
)

const (
	featureDim = 4
	vocabSize  = 5
)

func newNoContextModel() *countingSession {
	cfg := linear.ClassifierConfig{Feature: "encoder-state", Scores: "scores"}
	return &countingSession{Session: linear.NewRandomClassifier(cfg, 7, featureDim, vocabSize)}
}

func directScores(t *testing.T, s engine.Session, f label.Frame) []float32 {
	t.Helper()
	out, err := s.Run(context.Background(),
		[]engine.Input{{Name: "encoder-state", Value: engine.NewFloat32(f, 1, int64(len(f)))}},
		[]string{"scores"})
	require.NoError(t, err)
	return out[0].RowFloat32(0)
}

func TestNoContextScoresFrames(t *testing.T) {
	ctx := context.Background()
	model := newNoContextModel()
	s, err := NewNoContext(model, DefaultNoContextConfig(), nil)
	require.NoError(t, err)

	frames := randomFrames(1, 3, featureDim)
	s.AddInputs(frames)

	c0 := s.InitialContext()
	c1 := s.ExtendedContext(label.Request{Context: c0, NextToken: 2, Transition: label.BlankToLabel})
	c2 := s.ExtendedContext(label.Request{Context: c1, NextToken: 0, Transition: label.LabelToBlank})

	got, ok, err := s.ScoresWithTimes(ctx, []label.Request{
		{Context: c0, NextToken: 1, Transition: label.InitialLabel},
		{Context: c2, NextToken: 3, Transition: label.BlankToLabel},
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.InDelta(t, directScores(t, model.Session, frames[0])[1], got.At(0).Score, 1e-6)
	assert.InDelta(t, directScores(t, model.Session, frames[2])[3], got.At(1).Score, 1e-6)
	assert.Equal(t, []label.TimeIndex{0, 2}, got.Timeframes())
}

func TestNoContextDeduplicatesAndCaches(t *testing.T) {
	ctx := context.Background()
	model := newNoContextModel()
	s, err := NewNoContext(model, DefaultNoContextConfig(), nil)
	require.NoError(t, err)
	s.AddInputs(randomFrames(2, 2, featureDim))

	c0 := s.InitialContext()
	rs := []label.Request{
		{Context: c0, NextToken: 0, Transition: label.InitialBlank},
		{Context: c0, NextToken: 1, Transition: label.InitialLabel},
		{Context: label.NewStepContext(s.Epoch(), 0), NextToken: 2, Transition: label.InitialLabel},
	}
	_, ok, err := s.ScoresWithTimes(ctx, rs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{1}, model.batches)

	_, ok, err = s.ScoresWithTimes(ctx, rs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, model.runs(), "second call is served from the cache")
}

func TestNoContextChunksBatches(t *testing.T) {
	ctx := context.Background()
	model := newNoContextModel()
	cfg := DefaultNoContextConfig()
	cfg.MaxBatchSize = 2
	s, err := NewNoContext(model, cfg, nil)
	require.NoError(t, err)
	s.AddInputs(randomFrames(3, 5, featureDim))

	var rs []label.Request
	for step := 0; step < 5; step++ {
		rs = append(rs, label.Request{Context: label.NewStepContext(s.Epoch(), step), NextToken: 1, Transition: label.BlankLoop})
	}
	_, ok, err := s.ScoresWithTimes(ctx, rs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2, 1}, model.batches)
}

func TestNoContextNotReadyPastBuffer(t *testing.T) {
	ctx := context.Background()
	model := newNoContextModel()
	s, err := NewNoContext(model, DefaultNoContextConfig(), nil)
	require.NoError(t, err)
	s.AddInputs(randomFrames(4, 1, featureDim))

	c1 := label.NewStepContext(s.Epoch(), 1)
	_, ok, err := s.ScoreWithTime(ctx, label.Request{Context: c1, NextToken: 0, Transition: label.BlankLoop})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, model.runs())
}

func TestNoContextSentenceEndPastClosedSegment(t *testing.T) {
	ctx := context.Background()
	model := newNoContextModel()
	s, err := NewNoContext(model, DefaultNoContextConfig(), nil)
	require.NoError(t, err)
	s.AddInputs(randomFrames(6, 1, featureDim))
	end := label.Request{Context: label.NewStepContext(s.Epoch(), 1), Transition: label.SentenceEnd}

	_, ok, err := s.ScoreWithTime(ctx, end)
	require.NoError(t, err)
	assert.False(t, ok, "more input may follow")

	s.SignalNoMoreFeatures()
	got, ok, err := s.ScoresWithTimes(ctx, []label.Request{
		end,
		{Context: label.NewStepContext(s.Epoch(), 0), NextToken: 1, Transition: label.BlankToLabel},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, got.Scores[0])
	assert.Equal(t, []label.TimeIndex{1, 0}, got.Timeframes())
	assert.Equal(t, []int{1}, model.batches)
}

func TestNoContextCleanupDiscardsInput(t *testing.T) {
	ctx := context.Background()
	model := newNoContextModel()
	s, err := NewNoContext(model, DefaultNoContextConfig(), nil)
	require.NoError(t, err)
	s.AddInputs(randomFrames(5, 4, featureDim))

	for step := 0; step < 4; step++ {
		_, ok, err := s.ScoreWithTime(ctx, label.Request{Context: label.NewStepContext(s.Epoch(), step), Transition: label.BlankLoop})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 4, s.cache.Len())

	s.CleanupCaches(nil)
	assert.Equal(t, 0, s.Inputs.Offset(), "empty active set keeps everything")

	s.CleanupCaches([]label.ScoringContext{label.NewStepContext(s.Epoch(), 3), label.NewStepContext(s.Epoch(), 2)})
	assert.Equal(t, 2, s.Inputs.Offset())
	assert.Equal(t, 2, s.cache.Len())

	requireContractPanic(t, func() {
		_, _, _ = s.ScoreWithTime(ctx, label.Request{Context: label.NewStepContext(s.Epoch(), 1), Transition: label.BlankLoop})
	})
}

func TestNoContextResetInvalidatesContexts(t *testing.T) {
	s, err := NewNoContext(newNoContextModel(), DefaultNoContextConfig(), nil)
	require.NoError(t, err)
	old := s.InitialContext()
	s.Reset()
	assert.False(t, old.Equal(s.InitialContext()))
	requireContractPanic(t, func() {
		s.ExtendedContext(label.Request{Context: old, Transition: label.BlankLoop})
	})
}

func TestNoContextConfigErrors(t *testing.T) {
	model := newNoContextModel()

	cfg := DefaultNoContextConfig()
	cfg.IO.Inputs = map[string]string{"encoder-state": "missing"}
	_, err := NewNoContext(model, cfg, nil)
	assert.ErrorIs(t, err, label.ErrConfig)
	assert.ErrorIs(t, err, engine.ErrIO)

	cfg = DefaultNoContextConfig()
	cfg.MaxBatchSize = 0
	_, err = NewNoContext(model, cfg, nil)
	assert.ErrorIs(t, err, label.ErrConfig)
}
