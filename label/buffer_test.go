package label

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireContractPanic asserts fn panics with an error wrapping ErrContract.
func requireContractPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.Is(err, ErrContract), "panic %v does not wrap ErrContract", err)
	}()
	fn()
}

func TestSplitFramesSharesBacking(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	frames := SplitFrames(data, 2)
	require.Len(t, frames, 3)
	if diff := cmp.Diff(Frame{3, 4}, frames[1]); diff != "" {
		t.Errorf("frame 1 mismatch (-want +got):\n%s", diff)
	}
	data[2] = 30
	assert.Equal(t, float32(30), frames[1][0])
	assert.Equal(t, 2, cap(frames[0]))
}

func TestSplitFramesRejectsRaggedInput(t *testing.T) {
	requireContractPanic(t, func() { SplitFrames(make([]float32, 5), 2) })
}

func TestInputBufferDiscard(t *testing.T) {
	var b InputBuffer
	for i := 0; i < 5; i++ {
		b.Push(Frame{float32(i)})
	}

	assert.Equal(t, 2, b.DiscardBefore(2))
	assert.Equal(t, 2, b.Offset())
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 3, b.Buffered())

	f, ok := b.At(3)
	require.True(t, ok)
	assert.Equal(t, Frame{3}, f)

	_, ok = b.At(5)
	assert.False(t, ok, "index not yet pushed is not ready")

	requireContractPanic(t, func() { b.At(1) })

	assert.Equal(t, 0, b.DiscardBefore(1), "offset never moves backwards")
	assert.Equal(t, 3, b.DiscardBefore(100), "never past the pushed frames")
	assert.Equal(t, 5, b.Offset())
}

func TestInputBufferRange(t *testing.T) {
	var b InputBuffer
	for i := 0; i < 4; i++ {
		b.Push(Frame{float32(i)})
	}
	b.DiscardBefore(1)

	fs, ok := b.Range(1, 3)
	require.True(t, ok)
	assert.Equal(t, []Frame{{1}, {2}}, fs)

	_, ok = b.Range(2, 5)
	assert.False(t, ok)

	requireContractPanic(t, func() { b.Range(0, 2) })
}

func TestInputBufferClear(t *testing.T) {
	var b InputBuffer
	b.Push(Frame{1})
	b.DiscardBefore(1)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Offset())
}
