package neural

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/label"
)

// LimitedConfig configures a model that sees one encoder frame plus the
// last HistoryLength labels.
type LimitedConfig struct {
	BatchConfig `yaml:",inline"`
	IO          engine.IOMap  `yaml:"io"`
	StartLabel  label.TokenID `yaml:"start-label" validate:"gte=0"`
	// HistoryLength is the fixed width of the label history.
	HistoryLength int `yaml:"history-length" validate:"gt=0"`
	// BlankUpdatesHistory pushes blanks into the history.
	BlankUpdatesHistory bool `yaml:"blank-updates-history"`
	// LoopUpdatesHistory pushes repeated labels into the history.
	LoopUpdatesHistory bool `yaml:"loop-updates-history"`
	// VerticalLabelTransition keeps the frame on label emissions.
	VerticalLabelTransition bool `yaml:"vertical-label-transition"`
}

// DefaultLimitedConfig returns a bigram-style history over token 0.
func DefaultLimitedConfig() LimitedConfig {
	return LimitedConfig{BatchConfig: DefaultBatchConfig(), HistoryLength: 1}
}

// Limited scores with a fixed-width label history. Contexts sharing a step
// are scored together, one engine run per chunk of distinct histories.
type Limited struct {
	*label.Buffered
	session engine.Session
	cfg     LimitedConfig
	feature string
	history string
	scores  string
	cache   *scoreCache
}

// NewLimited binds the "encoder-state" and "history" inputs and the
// "scores" output.
func NewLimited(session engine.Session, cfg LimitedConfig, logger *slog.Logger) (*Limited, error) {
	if err := cfg.validate("limited-context"); err != nil {
		return nil, err
	}
	if cfg.HistoryLength <= 0 {
		return nil, label.Configf("limited-context: history length %d", cfg.HistoryLength)
	}
	if cfg.StartLabel < 0 {
		return nil, label.Configf("limited-context: start label %d", cfg.StartLabel)
	}
	names, err := cfg.IO.Resolve(session, []engine.IOSpec{
		{Role: "encoder-state"},
		{Role: "history"},
		{Role: "scores", Output: true},
	})
	if err != nil {
		return nil, configErr("limited-context", err)
	}
	s := &Limited{
		Buffered: label.NewBuffered("limited-context", logger),
		session:  engine.Instrument(session, "limited-context"),
		cfg:      cfg,
		feature:  names["encoder-state"],
		history:  names["history"],
		scores:   names["scores"],
		cache:    newScoreCache("limited-context", cfg.MaxCachedScores),
	}
	s.OnReset(s.cache.Clear)
	return s, nil
}

func (s *Limited) Readiness() label.Readiness { return label.ReadyPerFrame }

func (s *Limited) InitialContext() label.ScoringContext {
	h := make([]label.TokenID, s.cfg.HistoryLength)
	for i := range h {
		h[i] = s.cfg.StartLabel
	}
	return label.NewSeqStepContext(s.Epoch(), h, 0)
}

func (s *Limited) seqContext(c label.ScoringContext) *label.SeqStepContext {
	sc, ok := c.(*label.SeqStepContext)
	if !ok {
		label.Contractf("limited-context: unexpected context %T", c)
	}
	s.CheckEpoch(sc.Epoch())
	return sc
}

// ExtendedContext shifts the history and advances the frame according to
// the transition. The input context is returned when neither changes.
func (s *Limited) ExtendedContext(r label.Request) label.ScoringContext {
	sc := s.seqContext(r.Context)
	push, advance := false, true
	switch r.Transition {
	case label.BlankLoop:
		push = s.cfg.BlankUpdatesHistory && s.cfg.LoopUpdatesHistory
	case label.LabelToBlank, label.InitialBlank:
		push = s.cfg.BlankUpdatesHistory
	case label.LabelLoop:
		push = s.cfg.LoopUpdatesHistory
		advance = !s.cfg.VerticalLabelTransition
	case label.BlankToLabel, label.LabelToLabel, label.InitialLabel:
		push = true
		advance = !s.cfg.VerticalLabelTransition
	case label.SentenceEnd:
		return r.Context
	default:
		label.Contractf("limited-context: transition %d", r.Transition)
	}
	if !push && !advance {
		return r.Context
	}
	h := sc.History()
	if push {
		h = append(slices.Clone(h[1:]), r.NextToken)
	}
	step := sc.Step()
	if advance {
		step++
	}
	return label.NewSeqStepContext(sc.Epoch(), h, step)
}

func (s *Limited) ScoreWithTime(ctx context.Context, r label.Request) (label.ScoreWithTime, bool, error) {
	return label.ScoreOne(ctx, s, r)
}

// ScoresWithTimes groups requests by step in order of first appearance.
// Sentence end past the last frame of a closed segment scores 0.
func (s *Limited) ScoresWithTimes(ctx context.Context, rs []label.Request) (label.ScoresWithTimes, bool, error) {
	seqs := make([]*label.SeqStepContext, len(rs))
	var order []label.TimeIndex
	groups := make(map[label.TimeIndex][]*label.SeqStepContext)
	for i, r := range rs {
		seqs[i] = s.seqContext(r.Context)
		step := seqs[i].Step()
		if _, ok := s.Inputs.At(step); !ok {
			if pastEnd(s.Buffered, r) {
				continue
			}
			return label.ScoresWithTimes{}, false, nil
		}
		if _, seen := groups[step]; !seen {
			order = append(order, step)
		}
		groups[step] = append(groups[step], seqs[i])
	}

	results := newResultSet()
	for _, step := range order {
		missing := collect(ctx, groups[step], s.cache, results)
		for _, batch := range chunk(missing, s.cfg.MaxBatchSize) {
			if err := s.forward(ctx, step, batch, results); err != nil {
				return label.ScoresWithTimes{}, false, err
			}
		}
	}

	scores := make([]float64, len(rs))
	times := make([]label.TimeIndex, len(rs))
	for i, r := range rs {
		times[i] = seqs[i].Step()
		if v, ok := results.get(seqs[i]); ok {
			scores[i] = tokenScore(v, r.NextToken)
		}
	}
	return label.NewScoresWithTimes(scores, times), true, nil
}

func (s *Limited) forward(ctx context.Context, step label.TimeIndex, batch []*label.SeqStepContext, results *resultSet) error {
	f, _ := s.Inputs.At(step)
	H := s.cfg.HistoryLength
	hist := make([]int32, 0, len(batch)*H)
	for _, c := range batch {
		for _, tok := range c.History() {
			hist = append(hist, int32(tok))
		}
	}
	inputs := []engine.Input{
		{Name: s.feature, Value: engine.NewFloat32(f, 1, int64(len(f)))},
		{Name: s.history, Value: engine.NewInt32(hist, int64(len(batch)), int64(H))},
	}
	out, err := s.session.Run(ctx, inputs, []string{s.scores})
	if err != nil {
		return fmt.Errorf("limited-context step %d: %w", step, err)
	}
	if err := storeRows(ctx, out[0], batch, s.cache, results); err != nil {
		return fmt.Errorf("limited-context step %d: %w", step, err)
	}
	return nil
}

// CleanupCaches drops cached scores and input frames before the earliest
// active step.
func (s *Limited) CleanupCaches(active []label.ScoringContext) {
	m, ok := label.MinActiveIndex(active, func(c label.ScoringContext) label.TimeIndex {
		return s.seqContext(c).Step()
	})
	if !ok {
		return
	}
	s.cache.Retain(func(c label.ScoringContext) bool {
		return c.(*label.SeqStepContext).Step() >= m
	})
	s.DiscardBefore(m)
}
