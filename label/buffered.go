package label

import (
	"log/slog"

	"github.com/google/uuid"
)

// Buffered holds the state every input-consuming scorer shares: the input
// buffer, the end-of-stream flag and the segment epoch. Strategies embed it
// and supply their own InitialContext, ExtendedContext and scoring.
type Buffered struct {
	Inputs InputBuffer

	logger      *slog.Logger
	name        string
	epoch       Epoch
	segment     uuid.UUID
	expectMore  bool
	onReset     []func()
	onAddInputs []func(n int)
}

// NewBuffered returns a base armed for its first segment. name is used in
// log lines only.
func NewBuffered(name string, logger *slog.Logger) *Buffered {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Buffered{name: name, logger: logger}
	b.rearm()
	return b
}

func (b *Buffered) rearm() {
	b.Inputs.Clear()
	b.epoch = NextEpoch()
	b.segment = uuid.New()
	b.expectMore = true
}

// Logger returns a logger tagged with the scorer name and current segment.
func (b *Buffered) Logger() *slog.Logger {
	return b.logger.With("scorer", b.name, "segment", b.segment.String())
}

// OnReset registers a hook that runs after the base has been re-armed.
// Strategies use it to drop their caches.
func (b *Buffered) OnReset(fn func()) { b.onReset = append(b.onReset, fn) }

// OnAddInputs registers a hook that runs after n frames were appended.
func (b *Buffered) OnAddInputs(fn func(n int)) { b.onAddInputs = append(b.onAddInputs, fn) }

// Reset drops all buffered input and starts a new epoch.
func (b *Buffered) Reset() {
	prev := b.segment
	pushed := b.Inputs.Len()
	b.rearm()
	for _, fn := range b.onReset {
		fn()
	}
	b.logger.Debug("scorer reset",
		"scorer", b.name,
		"previous_segment", prev.String(),
		"segment", b.segment.String(),
		"frames_seen", pushed)
}

// SignalNoMoreFeatures closes the input stream of the current segment.
func (b *Buffered) SignalNoMoreFeatures() { b.expectMore = false }

// ExpectMoreFeatures reports whether the input stream is still open.
func (b *Buffered) ExpectMoreFeatures() bool { return b.expectMore }

// AddInput appends one frame. It panics once the stream has been closed.
func (b *Buffered) AddInput(f Frame) {
	b.AddInputs([]Frame{f})
}

// AddInputs appends frames in order.
func (b *Buffered) AddInputs(fs []Frame) {
	if !b.expectMore {
		contractf("%s: input added after end of stream", b.name)
	}
	for _, f := range fs {
		b.Inputs.Push(f)
	}
	for _, fn := range b.onAddInputs {
		fn(len(fs))
	}
}

// Epoch returns the epoch of the current segment.
func (b *Buffered) Epoch() Epoch { return b.epoch }

// CheckEpoch panics when a context from another segment is presented.
func (b *Buffered) CheckEpoch(e Epoch) {
	if e != b.epoch {
		contractf("%s: context from segment epoch %d used in epoch %d", b.name, e, b.epoch)
	}
}

// DiscardBefore drops buffered input strictly before minActive.
func (b *Buffered) DiscardBefore(minActive TimeIndex) {
	if n := b.Inputs.DiscardBefore(minActive); n > 0 {
		b.logger.Debug("discarded input",
			"scorer", b.name, "frames", n, "offset", b.Inputs.Offset())
	}
}
