package neural

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/label"
)

// TransducerConfig configures the prediction and joint models of a
// transducer.
type TransducerConfig struct {
	BatchConfig `yaml:",inline"`
	Initializer engine.IOMap `yaml:"initializer"`
	Updater     engine.IOMap `yaml:"updater"`
	Scorer      engine.IOMap `yaml:"scorer"`
	// StartLabel, when set, is fed through the updater to get the state of
	// the empty history.
	StartLabel          *label.TokenID `yaml:"start-label" validate:"omitempty,gte=0"`
	BlankUpdatesHistory bool           `yaml:"blank-updates-history"`
	LoopUpdatesHistory  bool           `yaml:"loop-updates-history"`
	// VerticalLabelTransition keeps the frame on label emissions.
	VerticalLabelTransition bool `yaml:"vertical-label-transition"`
}

// DefaultTransducerConfig returns the default batch and cache sizes.
func DefaultTransducerConfig() TransducerConfig {
	return TransducerConfig{BatchConfig: DefaultBatchConfig()}
}

// Transducer scores one encoder frame against a hidden state of the label
// history. The initializer takes no input and the updater sees tokens only,
// so states never depend on the audio and scores are available as soon as
// the context's frame is buffered.
type Transducer struct {
	*label.Buffered
	cfg    TransducerConfig
	models StatefulSessions
	states stateRouting

	updaterToken string
	feature      string
	scores       string
	initial      stateTensors // initializer output, shared across segments
	root         *label.Lazy[label.HiddenState]
	cache        *scoreCache
}

// NewTransducer resolves the "token" input of the updater and the
// "encoder-state" input and "scores" output of the scorer, then routes the
// states from the models' metadata.
func NewTransducer(models StatefulSessions, cfg TransducerConfig, logger *slog.Logger) (*Transducer, error) {
	if err := cfg.validate("transducer"); err != nil {
		return nil, err
	}
	if models.Initializer == nil || models.Updater == nil || models.Scorer == nil {
		return nil, label.Configf("transducer: initializer, updater and scorer sessions are required")
	}
	if cfg.StartLabel != nil && *cfg.StartLabel < 0 {
		return nil, label.Configf("transducer: start label %d", *cfg.StartLabel)
	}
	s := &Transducer{
		Buffered: label.NewBuffered("transducer", logger),
		cfg:      cfg,
		cache:    newScoreCache("transducer", cfg.MaxCachedScores),
	}

	names, err := cfg.Updater.Resolve(models.Updater, []engine.IOSpec{{Role: "token"}})
	if err != nil {
		return nil, configErr("transducer updater", err)
	}
	s.updaterToken = names["token"]

	names, err = cfg.Scorer.Resolve(models.Scorer, []engine.IOSpec{
		{Role: "encoder-state"},
		{Role: "scores", Output: true},
	})
	if err != nil {
		return nil, configErr("transducer scorer", err)
	}
	s.feature, s.scores = names["encoder-state"], names["scores"]

	if s.states, err = routeStates("transducer", models, s.Logger()); err != nil {
		return nil, err
	}
	if len(s.states.updaterOut) == 0 {
		return nil, label.Configf("transducer: updater produces no states")
	}
	if len(s.states.scorerIn) == 0 {
		return nil, label.Configf("transducer: scorer reads no states")
	}
	s.models = StatefulSessions{
		Initializer: engine.Instrument(models.Initializer, "transducer-initializer"),
		Updater:     engine.Instrument(models.Updater, "transducer-updater"),
		Scorer:      engine.Instrument(models.Scorer, "transducer-scorer"),
	}
	s.rearm()
	s.OnReset(s.rearm)
	return s, nil
}

func (s *Transducer) rearm() {
	s.root = initialState(s.cfg.StartLabel)
	s.cache.Clear()
}

// Readiness is ReadyPerFrame.
func (s *Transducer) Readiness() label.Readiness { return label.ReadyPerFrame }

// InitialContext has an empty history at the first frame.
func (s *Transducer) InitialContext() label.ScoringContext {
	return label.NewStepHiddenStateContext(s.Epoch(), nil, s.root, 0)
}

func (s *Transducer) stepContext(c label.ScoringContext) *label.StepHiddenStateContext {
	sc, ok := c.(*label.StepHiddenStateContext)
	if !ok {
		label.Contractf("transducer: unexpected context %T", c)
	}
	s.CheckEpoch(sc.Epoch())
	return sc
}

// ExtendedContext advances the frame and chains a pending state according
// to the transition. The input context is returned when neither changes.
func (s *Transducer) ExtendedContext(r label.Request) label.ScoringContext {
	sc := s.stepContext(r.Context)
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
		label.Contractf("transducer: transition %d", r.Transition)
	}
	if !push && !advance {
		return r.Context
	}
	history, state := sc.History(), sc.State()
	if push {
		history = label.AppendToken(history, r.NextToken)
		state = label.NewLazyExtension(state, r.NextToken)
	}
	step := sc.Step()
	if advance {
		step++
	}
	return label.NewStepHiddenStateContext(sc.Epoch(), history, state, step)
}

// ScoreWithTime scores a single request through ScoresWithTimes.
func (s *Transducer) ScoreWithTime(ctx context.Context, r label.Request) (label.ScoreWithTime, bool, error) {
	return label.ScoreOne(ctx, s, r)
}

// ScoresWithTimes groups requests by frame in order of first appearance and
// runs the scorer once per chunk of distinct histories at each frame.
// Sentence end past the last frame of a closed segment scores 0.
func (s *Transducer) ScoresWithTimes(ctx context.Context, rs []label.Request) (label.ScoresWithTimes, bool, error) {
	scs := make([]*label.StepHiddenStateContext, len(rs))
	var order []label.TimeIndex
	groups := make(map[label.TimeIndex][]*label.StepHiddenStateContext)
	for i, r := range rs {
		scs[i] = s.stepContext(r.Context)
		step := scs[i].Step()
		if _, ok := s.Inputs.At(step); !ok {
			if pastEnd(s.Buffered, r) {
				continue
			}
			return label.ScoresWithTimes{}, false, nil
		}
		if _, seen := groups[step]; !seen {
			order = append(order, step)
		}
		groups[step] = append(groups[step], scs[i])
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
		times[i] = scs[i].Step()
		if v, ok := results.get(scs[i]); ok {
			scores[i] = tokenScore(v, r.NextToken)
		}
	}
	return label.NewScoresWithTimes(scores, times), true, nil
}

func (s *Transducer) forward(ctx context.Context, step label.TimeIndex, batch []*label.StepHiddenStateContext, results *resultSet) error {
	states, err := resolveStates(ctx, batch, s)
	if err != nil {
		return err
	}
	inputs, err := s.states.scorerInputs(states)
	if err != nil {
		return fmt.Errorf("transducer scorer input %w", err)
	}
	f, _ := s.Inputs.At(step)
	inputs = append(inputs, engine.Input{Name: s.feature, Value: engine.NewFloat32(f, 1, int64(len(f)))})
	out, err := s.models.Scorer.Run(ctx, inputs, []string{s.scores})
	if err != nil {
		return fmt.Errorf("transducer scorer step %d: %w", step, err)
	}
	if err := storeRows(ctx, out[0], batch, s.cache, results); err != nil {
		return fmt.Errorf("transducer scorer step %d: %w", step, err)
	}
	return nil
}

// Initial runs the initializer. It has no inputs, so its output is computed
// once and reused by every segment.
func (s *Transducer) Initial(ctx context.Context) (label.HiddenState, error) {
	if s.initial != nil {
		return s.initial, nil
	}
	st, err := s.states.initial(ctx, s.models.Initializer, nil)
	if err != nil {
		return nil, fmt.Errorf("transducer initializer: %w", err)
	}
	s.initial = st
	return st, nil
}

// Extend runs the updater for one token.
func (s *Transducer) Extend(ctx context.Context, parent label.HiddenState, tok label.TokenID) (label.HiddenState, error) {
	inputs := []engine.Input{{Name: s.updaterToken, Value: engine.NewInt32([]int32{int32(tok)}, 1)}}
	next, err := s.states.update(ctx, s.models.Updater, inputs, parent)
	if err != nil {
		return nil, fmt.Errorf("transducer updater token %d: %w", tok, err)
	}
	return next, nil
}

// CleanupCaches drops cached scores and input frames before the earliest
// active frame.
func (s *Transducer) CleanupCaches(active []label.ScoringContext) {
	m, ok := label.MinActiveIndex(active, func(c label.ScoringContext) label.TimeIndex {
		return s.stepContext(c).Step()
	})
	if !ok {
		return
	}
	s.cache.Retain(func(c label.ScoringContext) bool {
		return c.(*label.StepHiddenStateContext).Step() >= m
	})
	s.DiscardBefore(m)
}
