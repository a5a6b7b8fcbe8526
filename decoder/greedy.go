// Package decoder drives a label.Scorer with a one-best search. It is not a
// beam search: at every step the single best extension wins.
package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ieee0824/labelscore/label"
)

// Mode selects the search topology.
type Mode string

const (
	// FrameSynchronous takes one CTC-topology step per input frame,
	// choosing between blank, a label loop and a new label.
	FrameSynchronous Mode = "frame-synchronous"
	// LabelSynchronous emits one label per step until sentence end wins.
	LabelSynchronous Mode = "label-synchronous"
)

// NoBlank disables the blank token in label-synchronous mode.
const NoBlank label.TokenID = -1

// Config holds search parameters.
type Config struct {
	Mode      Mode          `yaml:"mode" validate:"oneof=frame-synchronous label-synchronous"`
	Blank     label.TokenID `yaml:"blank" validate:"gte=-1"`
	VocabSize int           `yaml:"vocab-size" validate:"gt=0"`
	// MaxLabels bounds label-synchronous decoding. 0 means one label per
	// input frame.
	MaxLabels int `yaml:"max-labels" validate:"gte=0"`
	// SentenceEnd adds the sentence-end score to the result.
	SentenceEnd bool `yaml:"sentence-end"`
	// CleanupInterval is the number of steps between cache cleanups.
	CleanupInterval int `yaml:"cleanup-interval" validate:"gt=0"`
}

// DefaultConfig returns frame-synchronous CTC decoding with blank 0. The
// vocabulary size has to be filled in.
func DefaultConfig() Config {
	return Config{
		Mode:            FrameSynchronous,
		Blank:           0,
		SentenceEnd:     true,
		CleanupInterval: 1,
	}
}

func (c Config) validate() error {
	switch c.Mode {
	case FrameSynchronous:
		if c.Blank < 0 {
			return label.Configf("decoder: frame-synchronous mode needs a blank, got %d", c.Blank)
		}
	case LabelSynchronous:
		if c.Blank < NoBlank {
			return label.Configf("decoder: blank %d", c.Blank)
		}
	default:
		return label.Configf("decoder: unknown mode %q", c.Mode)
	}
	if c.VocabSize <= 0 || int(c.Blank) >= c.VocabSize {
		return label.Configf("decoder: vocabulary size %d with blank %d", c.VocabSize, c.Blank)
	}
	if c.MaxLabels < 0 || c.CleanupInterval <= 0 {
		return label.Configf("decoder: max labels %d, cleanup interval %d", c.MaxLabels, c.CleanupInterval)
	}
	return nil
}

// Option configures a Greedy decoder.
type Option func(*Greedy)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Greedy) { g.logger = l }
}

// hypothesis is the single running path.
type hypothesis struct {
	ctx    label.ScoringContext
	last   label.TokenID // previous token, or -1 at the start
	score  float64
	tokens []label.TokenID
	labels []Label
	steps  int
}

// Greedy is a streaming one-best decoder. Feed input with AddInputs and
// collect the result with Finish. A Greedy is not safe for concurrent use.
type Greedy struct {
	scorer label.Scorer
	cfg    Config
	logger *slog.Logger

	hyp      hypothesis
	fed      int
	finished bool
}

// NewGreedy wraps scorer. The scorer is reset.
func NewGreedy(scorer label.Scorer, cfg Config, opts ...Option) (*Greedy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &Greedy{scorer: scorer, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.Reset()
	return g, nil
}

// Reset starts a new segment.
func (g *Greedy) Reset() {
	g.scorer.Reset()
	g.hyp = hypothesis{ctx: g.scorer.InitialContext(), last: -1}
	g.fed = 0
	g.finished = false
}

// AddInputs feeds frames and, in frame-synchronous mode, advances as far as
// the scorer is ready.
func (g *Greedy) AddInputs(ctx context.Context, frames []label.Frame) error {
	if g.finished {
		return fmt.Errorf("decoder: input after Finish")
	}
	g.scorer.AddInputs(frames)
	g.fed += len(frames)
	if g.cfg.Mode != FrameSynchronous {
		return nil
	}
	_, err := g.advanceFrames(ctx)
	return err
}

// Finish closes the segment, completes the search and returns the result.
func (g *Greedy) Finish(ctx context.Context) (*Result, error) {
	if g.finished {
		return nil, fmt.Errorf("decoder: Finish called twice")
	}
	g.finished = true
	g.scorer.SignalNoMoreFeatures()

	switch g.cfg.Mode {
	case FrameSynchronous:
		done, err := g.advanceFrames(ctx)
		if err != nil {
			return nil, err
		}
		if !done {
			return nil, fmt.Errorf("decoder: scorer not ready at step %d after end of input", g.hyp.steps)
		}
	case LabelSynchronous:
		if err := g.decodeLabels(ctx); err != nil {
			return nil, err
		}
	}

	if g.cfg.SentenceEnd {
		if err := g.endSentence(ctx); err != nil {
			return nil, err
		}
	}
	g.logger.Debug("greedy decode finished",
		"mode", string(g.cfg.Mode),
		"frames", g.fed,
		"steps", g.hyp.steps,
		"labels", len(g.hyp.tokens),
		"log_score", g.hyp.score)
	return &Result{
		Tokens:   g.hyp.tokens,
		Labels:   g.hyp.labels,
		LogScore: g.hyp.score,
		Steps:    g.hyp.steps,
	}, nil
}

// transition classifies a CTC-topology step from prev to next.
func (g *Greedy) transition(prev, next label.TokenID) label.TransitionType {
	blank := g.cfg.Blank
	switch {
	case prev < 0 && next == blank:
		return label.InitialBlank
	case prev < 0:
		return label.InitialLabel
	case prev == blank && next == blank:
		return label.BlankLoop
	case prev == blank:
		return label.BlankToLabel
	case next == blank:
		return label.LabelToBlank
	case next == prev:
		return label.LabelLoop
	}
	return label.LabelToLabel
}

// advanceFrames takes steps until every fed frame is consumed (done) or the
// scorer is not ready yet.
func (g *Greedy) advanceFrames(ctx context.Context) (done bool, err error) {
	for g.hyp.steps < g.fed {
		rs := make([]label.Request, g.cfg.VocabSize)
		for v := range rs {
			tok := label.TokenID(v)
			rs[v] = label.Request{Context: g.hyp.ctx, NextToken: tok, Transition: g.transition(g.hyp.last, tok)}
		}
		ok, err := g.step(ctx, rs)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// decodeLabels emits labels until sentence end scores best or the label
// budget is spent.
func (g *Greedy) decodeLabels(ctx context.Context) error {
	limit := g.cfg.MaxLabels
	if limit == 0 {
		limit = g.fed
	}
	for len(g.hyp.tokens) < limit {
		var rs []label.Request
		for v := 0; v < g.cfg.VocabSize; v++ {
			tok := label.TokenID(v)
			if tok == g.cfg.Blank {
				continue
			}
			tr := label.LabelToLabel
			if g.hyp.last < 0 {
				tr = label.InitialLabel
			}
			rs = append(rs, label.Request{Context: g.hyp.ctx, NextToken: tok, Transition: tr})
		}
		if g.cfg.SentenceEnd {
			rs = append(rs, g.sentenceEndRequest())
		}
		res, ok, err := g.scorer.ScoresWithTimes(ctx, rs)
		if err != nil {
			return fmt.Errorf("decoder: label %d: %w", len(g.hyp.tokens), err)
		}
		if !ok {
			return fmt.Errorf("decoder: scorer not ready at label %d", len(g.hyp.tokens))
		}
		best := argmax(res.Scores)
		if rs[best].Transition == label.SentenceEnd {
			return nil
		}
		g.apply(rs[best], res.At(best))
	}
	return nil
}

func (g *Greedy) sentenceEndRequest() label.Request {
	return label.Request{Context: g.hyp.ctx, NextToken: max(g.cfg.Blank, 0), Transition: label.SentenceEnd}
}

func (g *Greedy) endSentence(ctx context.Context) error {
	st, ok, err := g.scorer.ScoreWithTime(ctx, g.sentenceEndRequest())
	if err != nil {
		return fmt.Errorf("decoder: sentence end: %w", err)
	}
	if !ok {
		return fmt.Errorf("decoder: scorer not ready for sentence end")
	}
	g.hyp.score += st.Score
	return nil
}

func (g *Greedy) step(ctx context.Context, rs []label.Request) (bool, error) {
	res, ok, err := g.scorer.ScoresWithTimes(ctx, rs)
	if err != nil {
		return false, fmt.Errorf("decoder: step %d: %w", g.hyp.steps, err)
	}
	if !ok {
		return false, nil
	}
	best := argmax(res.Scores)
	g.apply(rs[best], res.At(best))
	return true, nil
}

func (g *Greedy) apply(r label.Request, st label.ScoreWithTime) {
	g.hyp.ctx = g.scorer.ExtendedContext(r)
	g.hyp.score += st.Score
	g.hyp.steps++
	if r.Transition.EmitsLabel() {
		g.hyp.tokens = append(g.hyp.tokens, r.NextToken)
		g.hyp.labels = append(g.hyp.labels, Label{Token: r.NextToken, Frame: st.Timeframe, LogScore: st.Score})
	}
	g.hyp.last = r.NextToken
	if g.hyp.steps%g.cfg.CleanupInterval == 0 {
		g.scorer.CleanupCaches([]label.ScoringContext{g.hyp.ctx})
	}
}

// argmax returns the first index of the largest score. NaN never wins.
func argmax(scores []float64) int {
	best, bestScore := 0, math.Inf(-1)
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// Decode runs a whole segment through a fresh Greedy decoder.
func Decode(ctx context.Context, scorer label.Scorer, frames []label.Frame, cfg Config, opts ...Option) (*Result, error) {
	g, err := NewGreedy(scorer, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.AddInputs(ctx, frames); err != nil {
		return nil, err
	}
	return g.Finish(ctx)
}
