package neural

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/label"
)

// NoContextConfig configures a per-frame model: encoder state in, one score
// vector out, no label history.
type NoContextConfig struct {
	BatchConfig `yaml:",inline"`
	IO          engine.IOMap `yaml:"io"`
}

// DefaultNoContextConfig returns the default batch and cache sizes.
func DefaultNoContextConfig() NoContextConfig {
	return NoContextConfig{BatchConfig: DefaultBatchConfig()}
}

// NoContext runs the model once per distinct frame index. Scores only
// depend on the step, so the label history is ignored.
type NoContext struct {
	*label.Buffered
	session engine.Session
	cfg     NoContextConfig
	feature string
	scores  string
	cache   *scoreCache
}

// NewNoContext binds the "encoder-state" input and "scores" output roles.
func NewNoContext(session engine.Session, cfg NoContextConfig, logger *slog.Logger) (*NoContext, error) {
	if err := cfg.validate("no-context"); err != nil {
		return nil, err
	}
	names, err := cfg.IO.Resolve(session, []engine.IOSpec{
		{Role: "encoder-state"},
		{Role: "scores", Output: true},
	})
	if err != nil {
		return nil, configErr("no-context", err)
	}
	s := &NoContext{
		Buffered: label.NewBuffered("no-context", logger),
		session:  engine.Instrument(session, "no-context"),
		cfg:      cfg,
		feature:  names["encoder-state"],
		scores:   names["scores"],
		cache:    newScoreCache("no-context", cfg.MaxCachedScores),
	}
	s.OnReset(s.cache.Clear)
	return s, nil
}

func (s *NoContext) Readiness() label.Readiness { return label.ReadyPerFrame }

func (s *NoContext) InitialContext() label.ScoringContext {
	return label.NewStepContext(s.Epoch(), 0)
}

func (s *NoContext) stepContext(c label.ScoringContext) *label.StepContext {
	sc, ok := c.(*label.StepContext)
	if !ok {
		label.Contractf("no-context: unexpected context %T", c)
	}
	s.CheckEpoch(sc.Epoch())
	return sc
}

// ExtendedContext advances one frame for every transition.
func (s *NoContext) ExtendedContext(r label.Request) label.ScoringContext {
	if !r.Transition.Valid() {
		label.Contractf("no-context: transition %d", r.Transition)
	}
	sc := s.stepContext(r.Context)
	return label.NewStepContext(sc.Epoch(), sc.Step()+1)
}

func (s *NoContext) ScoreWithTime(ctx context.Context, r label.Request) (label.ScoreWithTime, bool, error) {
	return label.ScoreOne(ctx, s, r)
}

// ScoresWithTimes is not ready as soon as one request points past the
// buffered input. Sentence end past the last frame of a closed segment
// scores 0.
func (s *NoContext) ScoresWithTimes(ctx context.Context, rs []label.Request) (label.ScoresWithTimes, bool, error) {
	steps := make([]*label.StepContext, len(rs))
	var scored []*label.StepContext
	for i, r := range rs {
		steps[i] = s.stepContext(r.Context)
		if _, ok := s.Inputs.At(steps[i].Step()); ok {
			scored = append(scored, steps[i])
		} else if !pastEnd(s.Buffered, r) {
			return label.ScoresWithTimes{}, false, nil
		}
	}

	results := newResultSet()
	missing := collect(ctx, scored, s.cache, results)
	for _, batch := range chunk(missing, s.cfg.MaxBatchSize) {
		if err := s.forward(ctx, batch, results); err != nil {
			return label.ScoresWithTimes{}, false, err
		}
	}

	scores := make([]float64, len(rs))
	times := make([]label.TimeIndex, len(rs))
	for i, r := range rs {
		times[i] = steps[i].Step()
		if v, ok := results.get(steps[i]); ok {
			scores[i] = tokenScore(v, r.NextToken)
		}
	}
	return label.NewScoresWithTimes(scores, times), true, nil
}

func (s *NoContext) forward(ctx context.Context, batch []*label.StepContext, results *resultSet) error {
	var data []float32
	dim := 0
	for _, c := range batch {
		f, _ := s.Inputs.At(c.Step())
		dim = len(f)
		data = append(data, f...)
	}
	in := engine.NewFloat32(data, int64(len(batch)), int64(dim))
	out, err := s.session.Run(ctx, []engine.Input{{Name: s.feature, Value: in}}, []string{s.scores})
	if err != nil {
		return fmt.Errorf("no-context: %w", err)
	}
	if err := storeRows(ctx, out[0], batch, s.cache, results); err != nil {
		return fmt.Errorf("no-context: %w", err)
	}
	return nil
}

// CleanupCaches drops cached scores and input frames before the earliest
// active step.
func (s *NoContext) CleanupCaches(active []label.ScoringContext) {
	m, ok := label.MinActiveIndex(active, func(c label.ScoringContext) label.TimeIndex {
		return s.stepContext(c).Step()
	})
	if !ok {
		return
	}
	s.cache.Retain(func(c label.ScoringContext) bool {
		return c.(*label.StepContext).Step() >= m
	})
	s.DiscardBefore(m)
}
