package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorRowSharesData(t *testing.T) {
	x := NewFloat32([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	r := x.Row(1)
	assert.Equal(t, []int64{1, 2}, r.Shape)
	assert.Equal(t, []float32{3, 4}, r.F32)

	r.F32[0] = 30
	assert.Equal(t, float32(30), x.F32[2])
	assert.Equal(t, []float32{5, 6}, x.RowFloat32(2))
	assert.Panics(t, func() { x.Row(3) })
}

func TestConcat(t *testing.T) {
	a := NewInt32([]int32{1, 2}, 1, 2)
	b := NewInt32([]int32{3, 4, 5, 6}, 2, 2)
	got, err := Concat([]*Tensor{a, b})
	require.NoError(t, err)
	if diff := cmp.Diff(NewInt32([]int32{1, 2, 3, 4, 5, 6}, 3, 2), got); diff != "" {
		t.Errorf("Concat mismatch (-want +got):\n%s", diff)
	}
}

func TestConcatErrors(t *testing.T) {
	_, err := Concat(nil)
	assert.Error(t, err)

	_, err = Concat([]*Tensor{NewInt32([]int32{1}, 1, 1), NewFloat32([]float32{1}, 1, 1)})
	assert.ErrorContains(t, err, "is float32")

	_, err = Concat([]*Tensor{NewInt64([]int64{1, 2}, 1, 2), NewInt64([]int64{1, 2, 3}, 1, 3)})
	assert.ErrorContains(t, err, "shape")
}

func TestNewTensorSizeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { NewFloat32([]float32{1, 2, 3}, 2, 2) })
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 1, NewInt32([]int32{7}).BatchSize())
	assert.Equal(t, 4, NewInt64(make([]int64, 8), 4, 2).BatchSize())
}
