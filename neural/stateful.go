package neural

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/ieee0824/labelscore/engine"
	"github.com/ieee0824/labelscore/label"
)

// StatefulConfig configures the three models of a hidden-state scorer.
type StatefulConfig struct {
	BatchConfig         `yaml:",inline"`
	Initializer         engine.IOMap `yaml:"initializer"`
	Updater             engine.IOMap `yaml:"updater"`
	Scorer              engine.IOMap `yaml:"scorer"`
	BlankUpdatesHistory bool         `yaml:"blank-updates-history"`
	LoopUpdatesHistory  bool         `yaml:"loop-updates-history"`
	// StartLabel, when set, is fed through the updater to get the state of
	// the empty history.
	StartLabel *label.TokenID `yaml:"start-label" validate:"omitempty,gte=0"`
}

// DefaultStatefulConfig returns the default batch and cache sizes.
func DefaultStatefulConfig() StatefulConfig {
	return StatefulConfig{BatchConfig: DefaultBatchConfig()}
}

// StatefulSessions are the models behind a Stateful or Transducer scorer.
//
// The initializer maps the whole encoder sequence to the first state. The
// updater advances a state by one token. The scorer maps a batch of states
// to score vectors. Each model's metadata maps its state tensor names to
// shared state names, which is how tensors are routed between them.
type StatefulSessions struct {
	Initializer engine.Session
	Updater     engine.Session
	Scorer      engine.Session
}

// stateTensors is the HiddenState of a Stateful scorer: one [1, ...] tensor
// per state name.
type stateTensors map[string]*engine.Tensor

// Stateful scores with a hidden state derived from the complete input and
// the label history. States are computed lazily and only once the segment
// has ended.
type Stateful struct {
	*label.Buffered
	cfg    StatefulConfig
	models StatefulSessions

	states stateRouting

	initEncoder, initSize       string
	updaterEncoder, updaterSize string
	updaterToken                string
	scores                      string

	root    *label.Lazy[label.HiddenState]
	encoder *engine.Tensor
	cache   *scoreCache
}

// NewStateful resolves the io roles of all three models and builds the
// state routing from their metadata.
func NewStateful(models StatefulSessions, cfg StatefulConfig, logger *slog.Logger) (*Stateful, error) {
	if err := cfg.validate("stateful"); err != nil {
		return nil, err
	}
	if models.Initializer == nil || models.Updater == nil || models.Scorer == nil {
		return nil, label.Configf("stateful: initializer, updater and scorer sessions are required")
	}
	if cfg.StartLabel != nil && *cfg.StartLabel < 0 {
		return nil, label.Configf("stateful: start label %d", *cfg.StartLabel)
	}
	s := &Stateful{
		Buffered: label.NewBuffered("stateful", logger),
		cfg:      cfg,
		cache:    newScoreCache("stateful", cfg.MaxCachedScores),
	}

	names, err := cfg.Initializer.Resolve(models.Initializer, []engine.IOSpec{
		{Role: "encoder-states"},
		{Role: "encoder-states-size", Optional: true},
	})
	if err != nil {
		return nil, configErr("stateful initializer", err)
	}
	s.initEncoder, s.initSize = names["encoder-states"], names["encoder-states-size"]

	names, err = cfg.Updater.Resolve(models.Updater, []engine.IOSpec{
		{Role: "encoder-states", Optional: true},
		{Role: "encoder-states-size", Optional: true},
		{Role: "token"},
	})
	if err != nil {
		return nil, configErr("stateful updater", err)
	}
	s.updaterEncoder, s.updaterSize, s.updaterToken = names["encoder-states"], names["encoder-states-size"], names["token"]

	names, err = cfg.Scorer.Resolve(models.Scorer, []engine.IOSpec{{Role: "scores", Output: true}})
	if err != nil {
		return nil, configErr("stateful scorer", err)
	}
	s.scores = names["scores"]

	if s.states, err = routeStates("stateful", models, s.Logger()); err != nil {
		return nil, err
	}
	s.models = StatefulSessions{
		Initializer: engine.Instrument(models.Initializer, "stateful-initializer"),
		Updater:     engine.Instrument(models.Updater, "stateful-updater"),
		Scorer:      engine.Instrument(models.Scorer, "stateful-scorer"),
	}
	s.rearm()
	s.OnReset(s.rearm)
	return s, nil
}

// stateRouting maps tensor names of the three models to shared state
// names, as declared in each model's metadata.
type stateRouting struct {
	init       map[string]string // initializer output -> state
	updaterIn  map[string]string // updater input -> state
	updaterOut map[string]string // updater output -> state
	scorerIn   map[string]string // scorer input -> state
}

func routeStates(scorer string, models StatefulSessions, logger *slog.Logger) (stateRouting, error) {
	r := stateRouting{
		init:       make(map[string]string),
		updaterIn:  make(map[string]string),
		updaterOut: make(map[string]string),
		scorerIn:   make(map[string]string),
	}

	known := make(map[string]bool)
	for tensor, state := range models.Initializer.Metadata() {
		if engine.HasOutput(models.Initializer, tensor) {
			r.init[tensor] = state
			known[state] = true
		}
	}
	if len(r.init) == 0 {
		return r, label.Configf("%s: initializer declares no state outputs", scorer)
	}

	updated := make(map[string]bool)
	for tensor, state := range models.Updater.Metadata() {
		in, out := engine.HasInput(models.Updater, tensor), engine.HasOutput(models.Updater, tensor)
		if (in || out) && !known[state] {
			return r, label.Configf("%s updater: state %q of %q is not produced by the initializer", scorer, state, tensor)
		}
		if in {
			r.updaterIn[tensor] = state
		}
		if out {
			r.updaterOut[tensor] = state
			updated[state] = true
		}
	}
	if len(updated) != len(known) {
		logger.Warn("updater leaves some states unchanged",
			"states", len(known), "updated", len(updated))
	}

	for tensor, state := range models.Scorer.Metadata() {
		if !engine.HasInput(models.Scorer, tensor) {
			continue
		}
		if !known[state] {
			return r, label.Configf("%s scorer: state %q of %q is not produced by the initializer", scorer, state, tensor)
		}
		r.scorerIn[tensor] = state
	}
	return r, nil
}

// initial runs the initializer and names its outputs by state.
func (r stateRouting) initial(ctx context.Context, sess engine.Session, inputs []engine.Input) (stateTensors, error) {
	outputs := slices.Sorted(maps.Keys(r.init))
	out, err := sess.Run(ctx, inputs, outputs)
	if err != nil {
		return nil, err
	}
	st := make(stateTensors, len(outputs))
	for i, name := range outputs {
		st[r.init[name]] = out[i]
	}
	return st, nil
}

// update runs the updater on prev plus inputs. States the updater does not
// produce carry over from prev.
func (r stateRouting) update(ctx context.Context, sess engine.Session, inputs []engine.Input, parent label.HiddenState) (stateTensors, error) {
	prev, ok := parent.(stateTensors)
	if !ok {
		label.Contractf("unexpected hidden state %T", parent)
	}
	for _, name := range slices.Sorted(maps.Keys(r.updaterIn)) {
		inputs = append(inputs, engine.Input{Name: name, Value: prev[r.updaterIn[name]]})
	}
	outputs := slices.Sorted(maps.Keys(r.updaterOut))
	out, err := sess.Run(ctx, inputs, outputs)
	if err != nil {
		return nil, err
	}
	next := maps.Clone(prev)
	for i, name := range outputs {
		next[r.updaterOut[name]] = out[i]
	}
	return next, nil
}

// scorerInputs stacks the [1, ...] states of a batch into one [B, ...]
// tensor per scorer state input.
func (r stateRouting) scorerInputs(states []stateTensors) ([]engine.Input, error) {
	var inputs []engine.Input
	for _, name := range slices.Sorted(maps.Keys(r.scorerIn)) {
		parts := make([]*engine.Tensor, len(states))
		for i, st := range states {
			parts[i] = st[r.scorerIn[name]]
		}
		v, err := engine.Concat(parts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		inputs = append(inputs, engine.Input{Name: name, Value: v})
	}
	return inputs, nil
}

// resolveStates finalizes the lazy states of a batch.
func resolveStates[C interface{ State() *label.Lazy[label.HiddenState] }](ctx context.Context, batch []C, r label.Resolver[label.HiddenState]) ([]stateTensors, error) {
	states := make([]stateTensors, len(batch))
	for i, c := range batch {
		st, err := c.State().Get(ctx, r)
		if err != nil {
			return nil, err
		}
		states[i] = st.(stateTensors)
	}
	return states, nil
}

// initialState is the root of a segment's state tree, extended by the start
// label when one is configured.
func initialState(start *label.TokenID) *label.Lazy[label.HiddenState] {
	root := label.NewLazyRoot[label.HiddenState]()
	if start == nil {
		return root
	}
	return label.NewLazyExtension(root, *start)
}

func (s *Stateful) rearm() {
	s.root = initialState(s.cfg.StartLabel)
	s.encoder = nil
	s.cache.Clear()
}

// Readiness is ReadyAtSegmentEnd.
func (s *Stateful) Readiness() label.Readiness { return label.ReadyAtSegmentEnd }

// InitialContext has an empty history. Its state is computed on first use.
func (s *Stateful) InitialContext() label.ScoringContext {
	return label.NewHiddenStateContext(s.Epoch(), nil, s.root)
}

func (s *Stateful) hiddenContext(c label.ScoringContext) *label.HiddenStateContext {
	hc, ok := c.(*label.HiddenStateContext)
	if !ok {
		label.Contractf("stateful: unexpected context %T", c)
	}
	s.CheckEpoch(hc.Epoch())
	return hc
}

func (s *Stateful) updatesState(r label.Request) bool {
	switch r.Transition {
	case label.BlankLoop:
		return s.cfg.BlankUpdatesHistory && s.cfg.LoopUpdatesHistory
	case label.LabelToBlank, label.InitialBlank:
		return s.cfg.BlankUpdatesHistory
	case label.LabelLoop:
		return s.cfg.LoopUpdatesHistory
	case label.BlankToLabel, label.LabelToLabel, label.InitialLabel:
		return true
	case label.SentenceEnd:
		return false
	}
	label.Contractf("stateful: transition %d", r.Transition)
	return false
}

// ExtendedContext appends the token and chains a pending state onto the
// parent's. Nothing is computed here.
func (s *Stateful) ExtendedContext(r label.Request) label.ScoringContext {
	hc := s.hiddenContext(r.Context)
	if !s.updatesState(r) {
		return r.Context
	}
	return label.NewHiddenStateContext(hc.Epoch(),
		label.AppendToken(hc.History(), r.NextToken),
		label.NewLazyExtension(hc.State(), r.NextToken))
}

// ScoreWithTime scores a single request through ScoresWithTimes.
func (s *Stateful) ScoreWithTime(ctx context.Context, r label.Request) (label.ScoreWithTime, bool, error) {
	return label.ScoreOne(ctx, s, r)
}

// ScoresWithTimes is not ready until the segment has ended with at least
// one frame. The timeframe of a score is the history length.
func (s *Stateful) ScoresWithTimes(ctx context.Context, rs []label.Request) (label.ScoresWithTimes, bool, error) {
	hcs := make([]*label.HiddenStateContext, len(rs))
	for i, r := range rs {
		hcs[i] = s.hiddenContext(r.Context)
	}
	if s.ExpectMoreFeatures() || s.Inputs.Len() == 0 {
		return label.ScoresWithTimes{}, false, nil
	}

	results := newResultSet()
	missing := collect(ctx, hcs, s.cache, results)
	for _, batch := range chunk(missing, s.cfg.MaxBatchSize) {
		if err := s.forward(ctx, batch, results); err != nil {
			return label.ScoresWithTimes{}, false, err
		}
	}

	scores := make([]float64, len(rs))
	times := make([]label.TimeIndex, len(rs))
	for i, r := range rs {
		v, _ := results.get(hcs[i])
		scores[i] = tokenScore(v, r.NextToken)
		times[i] = len(hcs[i].History())
	}
	return label.NewScoresWithTimes(scores, times), true, nil
}

func (s *Stateful) forward(ctx context.Context, batch []*label.HiddenStateContext, results *resultSet) error {
	states, err := resolveStates(ctx, batch, s)
	if err != nil {
		return err
	}
	inputs, err := s.states.scorerInputs(states)
	if err != nil {
		return fmt.Errorf("stateful scorer input %w", err)
	}
	out, err := s.models.Scorer.Run(ctx, inputs, []string{s.scores})
	if err != nil {
		return fmt.Errorf("stateful scorer: %w", err)
	}
	if err := storeRows(ctx, out[0], batch, s.cache, results); err != nil {
		return fmt.Errorf("stateful scorer: %w", err)
	}
	return nil
}

// encoderStates stacks the whole segment into [1, T, F] once.
func (s *Stateful) encoderStates() *engine.Tensor {
	if s.encoder != nil {
		return s.encoder
	}
	frames, _ := s.Inputs.Range(0, s.Inputs.Len())
	var data []float32
	for _, f := range frames {
		data = append(data, f...)
	}
	s.encoder = engine.NewFloat32(data, 1, int64(len(frames)), int64(len(frames[0])))
	return s.encoder
}

func (s *Stateful) encoderInputs(states, size string) []engine.Input {
	var in []engine.Input
	if states != "" {
		in = append(in, engine.Input{Name: states, Value: s.encoderStates()})
	}
	if size != "" {
		in = append(in, engine.Input{Name: size, Value: engine.NewInt32([]int32{int32(s.Inputs.Len())}, 1)})
	}
	return in
}

// Initial runs the initializer over the complete segment.
func (s *Stateful) Initial(ctx context.Context) (label.HiddenState, error) {
	if s.ExpectMoreFeatures() || s.Inputs.Len() == 0 {
		label.Contractf("stateful: initial state requested before segment end")
	}
	st, err := s.states.initial(ctx, s.models.Initializer, s.encoderInputs(s.initEncoder, s.initSize))
	if err != nil {
		return nil, fmt.Errorf("stateful initializer: %w", err)
	}
	return st, nil
}

// Extend runs the updater for one token. States the updater does not
// produce carry over from the parent.
func (s *Stateful) Extend(ctx context.Context, parent label.HiddenState, tok label.TokenID) (label.HiddenState, error) {
	inputs := s.encoderInputs(s.updaterEncoder, s.updaterSize)
	inputs = append(inputs, engine.Input{Name: s.updaterToken, Value: engine.NewInt32([]int32{int32(tok)}, 1)})
	next, err := s.states.update(ctx, s.models.Updater, inputs, parent)
	if err != nil {
		return nil, fmt.Errorf("stateful updater token %d: %w", tok, err)
	}
	return next, nil
}

// CleanupCaches keeps the cached scores of active contexts only. Input is
// never discarded: every state depends on the whole segment.
func (s *Stateful) CleanupCaches(active []label.ScoringContext) {
	if len(active) == 0 {
		return
	}
	keep := newResultSet()
	for _, c := range active {
		keep.put(s.hiddenContext(c), nil)
	}
	s.cache.Retain(func(c label.ScoringContext) bool {
		_, ok := keep.get(c)
		return ok
	})
}
