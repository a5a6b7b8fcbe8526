package label

// Frame is a read-only view of one timestep's feature vector. It may share
// its backing array with the producer; the garbage collector keeps it alive
// for as long as the buffer references it.
type Frame []float32

// SplitFrames slices a flat row-major T×dim block into T frames without
// copying.
func SplitFrames(data []float32, dim int) []Frame {
	if dim <= 0 || len(data)%dim != 0 {
		contractf("cannot split %d values into frames of %d", len(data), dim)
	}
	frames := make([]Frame, len(data)/dim)
	for t := range frames {
		frames[t] = Frame(data[t*dim : (t+1)*dim : (t+1)*dim])
	}
	return frames
}

// InputBuffer is an append-only, front-truncatable sequence of frames
// addressed by external timestep.
type InputBuffer struct {
	frames []Frame
	offset int // number of leading frames permanently discarded
}

// Push appends one frame.
func (b *InputBuffer) Push(f Frame) { b.frames = append(b.frames, f) }

// Len returns the number of frames ever pushed, discarded ones included.
func (b *InputBuffer) Len() int { return b.offset + len(b.frames) }

// Buffered returns the number of frames still held.
func (b *InputBuffer) Buffered() int { return len(b.frames) }

// Offset returns the number of permanently discarded frames.
func (b *InputBuffer) Offset() int { return b.offset }

// At returns the frame at external timestep t. ok is false when t has not
// been pushed yet. Asking for a discarded timestep panics.
func (b *InputBuffer) At(t TimeIndex) (Frame, bool) {
	if t < b.offset {
		contractf("input %d already discarded (offset %d)", t, b.offset)
	}
	i := t - b.offset
	if i >= len(b.frames) {
		return nil, false
	}
	return b.frames[i], true
}

// Range returns the frames for external timesteps [from, to). It panics
// like At for discarded timesteps and returns false if any is missing.
func (b *InputBuffer) Range(from, to TimeIndex) ([]Frame, bool) {
	if from < b.offset {
		contractf("input %d already discarded (offset %d)", from, b.offset)
	}
	if to > b.Len() {
		return nil, false
	}
	return b.frames[from-b.offset : to-b.offset], true
}

// DiscardBefore drops every frame with external timestep < t. The offset
// never moves backwards and never past the pushed frames.
func (b *InputBuffer) DiscardBefore(t TimeIndex) int {
	if t <= b.offset {
		return 0
	}
	n := min(t-b.offset, len(b.frames))
	clear(b.frames[:n])
	b.frames = b.frames[n:]
	b.offset += n
	return n
}

// Clear drops everything and rewinds the offset to zero.
func (b *InputBuffer) Clear() {
	b.frames = nil
	b.offset = 0
}
