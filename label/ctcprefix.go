package label

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/labelscore/internal/mathutil"
)

// PrefixScore is the pair of log-probabilities that a label prefix has been
// emitted by some timestep, ending in blank or in its own last label.
type PrefixScore struct {
	Blank    float64
	NonBlank float64
}

// Total is the log-probability of the prefix at that timestep regardless of
// the alignment state.
func (p PrefixScore) Total() float64 { return mathutil.LogAdd(p.Blank, p.NonBlank) }

// PrefixTable is the finalized state of a PrefixContext: its prefix scores
// at every timestep plus the memoized prefix probability of each extension.
type PrefixTable struct {
	blank    []float64
	nonBlank []float64
	score    float64 // log-probability of the history as a prefix
	last     TokenID
	empty    bool

	mu  sync.Mutex
	ext map[TokenID]float64
}

// Frames returns the number of timesteps covered.
func (p *PrefixTable) Frames() int { return len(p.blank) }

// At returns the prefix score pair at timestep t.
func (p *PrefixTable) At(t TimeIndex) PrefixScore {
	return PrefixScore{Blank: p.blank[t], NonBlank: p.nonBlank[t]}
}

// PrefixLogProb is the log-probability that the history is a prefix of the
// full label sequence.
func (p *PrefixTable) PrefixLogProb() float64 { return p.score }

// FinalLogProb is the log-probability that the history is the full label
// sequence of the segment.
func (p *PrefixTable) FinalLogProb() float64 {
	if len(p.blank) == 0 {
		if p.empty {
			return 0
		}
		return mathutil.LogZero
	}
	return p.At(len(p.blank) - 1).Total()
}

// CTCPrefix turns per-frame CTC emission scores from a wrapped scorer into
// label-synchronous prefix scores. The emission matrix is collected once the
// segment is closed, so the scorer is ready only at segment end.
type CTCPrefix struct {
	sub    Scorer
	blank  TokenID
	vocab  int
	logger *slog.Logger

	epoch      Epoch
	expectMore bool
	root       *Lazy[*PrefixTable]

	pushed int // frames handed to sub in this segment
	built  bool
	frames int
	ctc    *mat.Dense // vocab × frames, nil when frames == 0
}

// NewCTCPrefix wraps sub, whose scores for token v at frame t are read as
// log CTC(v, t). The sub-scorer must be a raw per-frame emission scorer: a
// Transition wrapper would add its blank-loop constant to every emission.
func NewCTCPrefix(sub Scorer, vocabSize int, blank TokenID, logger *slog.Logger) (*CTCPrefix, error) {
	if r := sub.Readiness(); r != ReadyPerFrame {
		return nil, Configf("ctc-prefix: sub-scorer is ready %s, need per-frame emissions", r)
	}
	if _, ok := sub.(*Transition); ok {
		return nil, Configf("ctc-prefix: sub-scorer adds transition scores to its emissions")
	}
	if vocabSize <= 0 {
		return nil, Configf("ctc-prefix: vocabulary size %d", vocabSize)
	}
	if blank < 0 || int(blank) >= vocabSize {
		return nil, Configf("ctc-prefix: blank %d outside vocabulary of %d", blank, vocabSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &CTCPrefix{sub: sub, blank: blank, vocab: vocabSize, logger: logger}
	s.rearm()
	return s, nil
}

func (s *CTCPrefix) rearm() {
	s.epoch = NextEpoch()
	s.expectMore = true
	s.root = NewLazyRoot[*PrefixTable]()
	s.pushed = 0
	s.built = false
	s.frames = 0
	s.ctc = nil
}

// Reset resets the sub-scorer and starts a new segment with an empty
// prefix.
func (s *CTCPrefix) Reset() {
	s.sub.Reset()
	s.rearm()
}

// SignalNoMoreFeatures closes the segment. The emission matrix is collected
// on the next scoring call.
func (s *CTCPrefix) SignalNoMoreFeatures() {
	s.expectMore = false
	s.sub.SignalNoMoreFeatures()
}

// AddInput forwards one frame to the sub-scorer.
func (s *CTCPrefix) AddInput(f Frame) { s.AddInputs([]Frame{f}) }

// AddInputs forwards frames to the sub-scorer.
func (s *CTCPrefix) AddInputs(fs []Frame) {
	if !s.expectMore {
		contractf("ctc-prefix: input added after end of stream")
	}
	s.sub.AddInputs(fs)
	s.pushed += len(fs)
}

// Readiness is always ReadyAtSegmentEnd.
func (s *CTCPrefix) Readiness() Readiness { return ReadyAtSegmentEnd }

// InitialContext returns the empty prefix.
func (s *CTCPrefix) InitialContext() ScoringContext {
	return NewPrefixContext(s.epoch, nil, s.root)
}

func (s *CTCPrefix) prefixContext(c ScoringContext) *PrefixContext {
	pc, ok := c.(*PrefixContext)
	if !ok {
		contractf("ctc-prefix: unexpected context %T", c)
	}
	if pc.Epoch() != s.epoch {
		contractf("ctc-prefix: context from segment epoch %d used in epoch %d", pc.Epoch(), s.epoch)
	}
	return pc
}

func (s *CTCPrefix) emits(r Request) bool {
	return r.Transition.EmitsLabel() && r.NextToken != s.blank
}

// ExtendedContext appends the token for label-emitting transitions and
// returns the context unchanged otherwise. The new prefix table is left
// pending until the context is scored.
func (s *CTCPrefix) ExtendedContext(r Request) ScoringContext {
	r.Transition.mustValid()
	pc := s.prefixContext(r.Context)
	if !s.emits(r) {
		return r.Context
	}
	s.checkToken(r.NextToken)
	return NewPrefixContext(s.epoch, AppendToken(pc.History(), r.NextToken), NewLazyExtension(pc.Table(), r.NextToken))
}

func (s *CTCPrefix) checkToken(tok TokenID) {
	if tok < 0 || int(tok) >= s.vocab {
		contractf("ctc-prefix: token %d outside vocabulary of %d", tok, s.vocab)
	}
}

func (s *CTCPrefix) timeframe() TimeIndex { return max(s.frames-1, 0) }

// ScoreWithTime returns the prefix log-probability gained by emitting the
// token, or the final log-probability of the history for SentenceEnd.
// Transitions that emit nothing score 0.
func (s *CTCPrefix) ScoreWithTime(ctx context.Context, r Request) (ScoreWithTime, bool, error) {
	r.Transition.mustValid()
	pc := s.prefixContext(r.Context)
	ready, err := s.ensureMatrix(ctx)
	if err != nil || !ready {
		return ScoreWithTime{}, false, err
	}
	tf := s.timeframe()
	if r.Transition != SentenceEnd && !s.emits(r) {
		return ScoreWithTime{Score: 0, Timeframe: tf}, true, nil
	}

	table, err := pc.Table().Get(ctx, prefixResolver{s})
	if err != nil {
		return ScoreWithTime{}, false, err
	}
	if mathutil.IsLogZero(table.score) {
		return ScoreWithTime{Score: mathutil.LogZero, Timeframe: tf}, true, nil
	}
	if r.Transition == SentenceEnd {
		return ScoreWithTime{Score: table.FinalLogProb() - table.score, Timeframe: tf}, true, nil
	}
	s.checkToken(r.NextToken)
	return ScoreWithTime{Score: s.extensionScore(table, r.NextToken) - table.score, Timeframe: tf}, true, nil
}

// ScoresWithTimes scores each request with ScoreWithTime.
func (s *CTCPrefix) ScoresWithTimes(ctx context.Context, rs []Request) (ScoresWithTimes, bool, error) {
	return ScoreEach(ctx, s, rs)
}

// CleanupCaches is a no-op: prefix tables live on their contexts and are
// released together with them.
func (s *CTCPrefix) CleanupCaches([]ScoringContext) {}

// ensureMatrix collects the CTC emission matrix from the sub-scorer, one
// frame at a time, until the sub-scorer runs out of input or every pushed
// frame has a column.
func (s *CTCPrefix) ensureMatrix(ctx context.Context) (bool, error) {
	if s.built {
		return true, nil
	}
	if s.expectMore {
		return false, nil
	}

	reqs := make([]Request, s.vocab)
	subCtx := s.sub.InitialContext()
	var cols [][]float64
	for len(cols) < s.pushed {
		for v := range reqs {
			reqs[v] = Request{Context: subCtx, NextToken: TokenID(v), Transition: BlankLoop}
		}
		res, ok, err := s.sub.ScoresWithTimes(ctx, reqs)
		if err != nil {
			return false, fmt.Errorf("collect ctc frame %d: %w", len(cols), err)
		}
		if !ok {
			break
		}
		cols = append(cols, res.Scores)
		subCtx = s.sub.ExtendedContext(Request{Context: subCtx, NextToken: s.blank, Transition: BlankLoop})
	}
	s.sub.CleanupCaches([]ScoringContext{subCtx})

	s.frames = len(cols)
	if s.frames > 0 {
		s.ctc = mat.NewDense(s.vocab, s.frames, nil)
		for t, col := range cols {
			s.ctc.SetCol(t, col)
		}
	}
	s.built = true
	s.logger.Debug("ctc matrix collected", "frames", s.frames, "vocab", s.vocab)
	return true, nil
}

func (s *CTCPrefix) emission(v TokenID, t int) float64 { return s.ctc.At(int(v), t) }

// emptyTable is the prefix table of the empty history: only cumulative
// blanks, never ending in a label.
func (s *CTCPrefix) emptyTable() *PrefixTable {
	p := &PrefixTable{
		blank:    make([]float64, s.frames),
		nonBlank: make([]float64, s.frames),
		empty:    true,
		ext:      make(map[TokenID]float64),
	}
	for t := 0; t < s.frames; t++ {
		prev := 0.0
		if t > 0 {
			prev = p.blank[t-1]
		}
		p.blank[t] = prev + s.emission(s.blank, t)
		p.nonBlank[t] = mathutil.LogZero
	}
	return p
}

// entry is the log-probability of the parent prefix being complete at t-1
// in a state from which c can start a new label at t.
func entry(parent *PrefixTable, c TokenID, t int) float64 {
	if !parent.empty && c == parent.last {
		return parent.blank[t-1]
	}
	return mathutil.LogAdd(parent.blank[t-1], parent.nonBlank[t-1])
}

// extensionScore returns the prefix log-probability of parent+c, memoized
// on parent.
func (s *CTCPrefix) extensionScore(parent *PrefixTable, c TokenID) float64 {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if v, ok := parent.ext[c]; ok {
		return v
	}
	psi := mathutil.LogZero
	if s.frames > 0 && parent.empty {
		psi = s.emission(c, 0)
	}
	for t := 1; t < s.frames; t++ {
		psi = mathutil.LogAdd(psi, entry(parent, c, t)+s.emission(c, t))
	}
	parent.ext[c] = psi
	return psi
}

// extendTable computes the prefix table of parent+c.
func (s *CTCPrefix) extendTable(parent *PrefixTable, c TokenID) *PrefixTable {
	p := &PrefixTable{
		blank:    make([]float64, s.frames),
		nonBlank: make([]float64, s.frames),
		last:     c,
		ext:      make(map[TokenID]float64),
	}
	if s.frames > 0 {
		p.blank[0] = mathutil.LogZero
		p.nonBlank[0] = mathutil.LogZero
		if parent.empty {
			p.nonBlank[0] = s.emission(c, 0)
		}
	}
	for t := 1; t < s.frames; t++ {
		phi := entry(parent, c, t)
		p.nonBlank[t] = mathutil.LogAdd(p.nonBlank[t-1], phi) + s.emission(c, t)
		p.blank[t] = mathutil.LogAdd(p.blank[t-1], p.nonBlank[t-1]) + s.emission(s.blank, t)
	}
	p.score = s.extensionScore(parent, c)
	return p
}

type prefixResolver struct{ s *CTCPrefix }

func (r prefixResolver) Initial(context.Context) (*PrefixTable, error) {
	return r.s.emptyTable(), nil
}

func (r prefixResolver) Extend(_ context.Context, parent *PrefixTable, tok TokenID) (*PrefixTable, error) {
	return r.s.extendTable(parent, tok), nil
}
