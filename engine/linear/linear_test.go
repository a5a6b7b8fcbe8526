package linear

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/labelscore/engine"
)

func TestLayerForward(t *testing.T) {
	l := Layer{W: []float32{1, 0, 0, 1, 1, 1}, B: []float32{0, 0, 10}, In: 2, Out: 3}
	got := l.Forward([]float32{2, 3, -1, 1}, 2)
	assert.Equal(t, []float32{2, 3, 15, -1, 1, 10}, got)
}

func TestClassifierRowsAreLogDistributions(t *testing.T) {
	c := NewRandomClassifier(ClassifierConfig{Feature: "x", Scores: "scores"}, 1, 4, 5)
	x := engine.NewFloat32([]float32{0.1, 0.2, 0.3, 0.4, -1, 0, 1, 2}, 2, 4)
	out, err := c.Run(context.Background(), []engine.Input{{Name: "x", Value: x}}, []string{"scores"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []int64{2, 5}, out[0].Shape)
	for b := 0; b < 2; b++ {
		sum := 0.0
		for _, v := range out[0].RowFloat32(b) {
			sum += math.Exp(float64(v))
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestClassifierBroadcastsFeatureOverHistories(t *testing.T) {
	ctx := context.Background()
	cfg := ClassifierConfig{Feature: "enc", History: "history", Scores: "scores"}
	c := NewRandomClassifier(cfg, 2, 3, 4)
	x := engine.NewFloat32([]float32{0.5, -0.5, 1}, 1, 3)

	both, err := c.Run(ctx, []engine.Input{
		{Name: "enc", Value: x},
		{Name: "history", Value: engine.NewInt32([]int32{0, 1, 2, 3}, 2, 2)},
	}, []string{"scores"})
	require.NoError(t, err)

	second, err := c.Run(ctx, []engine.Input{
		{Name: "enc", Value: x},
		{Name: "history", Value: engine.NewInt32([]int32{2, 3}, 1, 2)},
	}, []string{"scores"})
	require.NoError(t, err)

	assert.InDeltaSlice(t, second[0].RowFloat32(0), both[0].RowFloat32(1), 1e-6)
	assert.NotEqual(t, both[0].RowFloat32(0), both[0].RowFloat32(1))
}

func TestClassifierErrors(t *testing.T) {
	ctx := context.Background()
	c := NewRandomClassifier(ClassifierConfig{Feature: "enc", History: "history", Scores: "scores"}, 3, 2, 3)
	x := engine.NewFloat32([]float32{1, 2}, 1, 2)

	_, err := c.Run(ctx, []engine.Input{{Name: "enc", Value: x}}, []string{"scores"})
	assert.ErrorContains(t, err, `missing input "history"`)

	_, err = c.Run(ctx, []engine.Input{
		{Name: "enc", Value: x},
		{Name: "history", Value: engine.NewInt32([]int32{7}, 1, 1)},
	}, []string{"scores"})
	assert.ErrorContains(t, err, "outside embedding")

	_, err = c.Run(ctx, []engine.Input{{Name: "enc", Value: x}}, []string{"logits"})
	assert.ErrorContains(t, err, "unknown output")
}

func TestMeanPool(t *testing.T) {
	m := NewMeanPool("encoder-states", "encoder-states-size", "init", "hidden", 2)
	assert.Equal(t, map[string]string{"init": "hidden"}, m.Metadata())

	x := engine.NewFloat32([]float32{1, 2, 3, 4, 100, 100}, 1, 3, 2)
	out, err := m.Run(context.Background(), []engine.Input{
		{Name: "encoder-states", Value: x},
		{Name: "encoder-states-size", Value: engine.NewInt32([]int32{2}, 1)},
	}, []string{"init"})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, out[0].F32)
	assert.Equal(t, []int64{1, 2}, out[0].Shape)
}

func TestRecurrent(t *testing.T) {
	layer := Layer{W: []float32{1, 0, 0, 1}, B: []float32{0, 0}, In: 2, Out: 2}
	emb := []float32{0, 0, 1, -1}
	r := NewRecurrent("state-in", "token", "state-out", "hidden", layer, emb)
	assert.Equal(t, "hidden", r.Metadata()["state-in"])
	assert.Equal(t, "hidden", r.Metadata()["state-out"])

	out, err := r.Run(context.Background(), []engine.Input{
		{Name: "state-in", Value: engine.NewFloat32([]float32{0.5, 0.5}, 1, 2)},
		{Name: "token", Value: engine.NewInt32([]int32{1}, 1)},
	}, []string{"state-out"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{float32(math.Tanh(1.5)), float32(math.Tanh(-0.5))}, out[0].F32, 1e-6)
}

func TestConstant(t *testing.T) {
	c := NewConstant("h0", "hidden", []float32{0.5, -1})
	assert.Empty(t, c.InputNames())
	assert.Equal(t, map[string]string{"h0": "hidden"}, c.Metadata())

	out, err := c.Run(context.Background(), nil, []string{"h0"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1}, out[0].F32)
	out[0].F32[0] = 7
	again, err := c.Run(context.Background(), nil, []string{"h0"})
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), again[0].F32[0], "outputs do not alias the state")
}

func TestJointBroadcastsFrameOverStates(t *testing.T) {
	feature := Layer{W: []float32{1, 0, 0, 1}, B: []float32{0, 0}, In: 2, Out: 2}
	state := Layer{W: []float32{1, 0}, B: []float32{9, 9}, In: 1, Out: 2}
	j := NewJoint("enc", "state", "scores", "hidden", feature, state)
	assert.Equal(t, "hidden", j.Metadata()["state"])

	out, err := j.Run(context.Background(), []engine.Input{
		{Name: "enc", Value: engine.NewFloat32([]float32{1, 1}, 1, 2)},
		{Name: "state", Value: engine.NewFloat32([]float32{0, float32(math.Log(3))}, 2, 1)},
	}, []string{"scores"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2}, out[0].Shape)
	// Equal logits for state 0, logits (1+ln3, 1) for state 1.
	assert.InDeltaSlice(t, []float32{float32(math.Log(0.5)), float32(math.Log(0.5)), float32(math.Log(0.75)), float32(math.Log(0.25))}, out[0].F32, 1e-6)

	_, err = j.Run(context.Background(), []engine.Input{
		{Name: "enc", Value: engine.NewFloat32([]float32{1, 1, 1, 1}, 2, 2)},
		{Name: "state", Value: engine.NewFloat32([]float32{0}, 1, 1)},
	}, []string{"scores"})
	assert.Error(t, err, "one frame per run")
}
