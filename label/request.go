package label

import (
	"fmt"
	"strings"
)

// TokenID indexes the output vocabulary.
type TokenID int32

// TimeIndex is an external (never shifted) input timestep.
type TimeIndex = int

// TransitionType is the kind of step taken between two decoding positions.
type TransitionType uint8

const (
	LabelToLabel TransitionType = iota
	LabelLoop
	LabelToBlank
	BlankToLabel
	BlankLoop
	InitialLabel
	InitialBlank
	SentenceEnd

	numTransitionTypes
)

var transitionNames = [numTransitionTypes]string{
	LabelToLabel: "label-to-label",
	LabelLoop:    "label-loop",
	LabelToBlank: "label-to-blank",
	BlankToLabel: "blank-to-label",
	BlankLoop:    "blank-loop",
	InitialLabel: "initial-label",
	InitialBlank: "initial-blank",
	SentenceEnd:  "sentence-end",
}

// AllTransitionTypes lists every transition type in declaration order.
func AllTransitionTypes() []TransitionType {
	out := make([]TransitionType, numTransitionTypes)
	for i := range out {
		out[i] = TransitionType(i)
	}
	return out
}

// Valid reports whether t is one of the declared transition types.
func (t TransitionType) Valid() bool { return t < numTransitionTypes }

func (t TransitionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TransitionType(%d)", uint8(t))
	}
	return transitionNames[t]
}

// ParseTransitionType accepts the names printed by String, case-insensitively,
// with either '-' or '_' as separator.
func ParseTransitionType(s string) (TransitionType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, name := range transitionNames {
		if name == norm {
			return TransitionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transition type %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (t *TransitionType) UnmarshalText(text []byte) error {
	v, err := ParseTransitionType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t TransitionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid transition type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// mustValid panics on transition types outside the declared set.
func (t TransitionType) mustValid() {
	if !t.Valid() {
		contractf("unknown transition type %d", uint8(t))
	}
}

// EmitsLabel reports whether the transition appends a new label to the
// collapsed output sequence.
func (t TransitionType) EmitsLabel() bool {
	switch t {
	case LabelToLabel, BlankToLabel, InitialLabel:
		return true
	}
	return false
}

// Request asks for the score of extending Context with NextToken.
type Request struct {
	Context    ScoringContext
	NextToken  TokenID
	Transition TransitionType
}

// ScoreWithTime is a log-probability together with the input timestep it is
// attributed to.
type ScoreWithTime struct {
	Score     float64
	Timeframe TimeIndex
}

// ScoresWithTimes is the batched result. When every request resolves to the
// same timeframe only that single value is stored.
type ScoresWithTimes struct {
	Scores []float64

	timeframes []TimeIndex
	broadcast  TimeIndex
}

// NewScoresWithTimes builds a batched result, collapsing timeframes to the
// broadcast form when they are all equal.
func NewScoresWithTimes(scores []float64, timeframes []TimeIndex) ScoresWithTimes {
	if len(scores) != len(timeframes) {
		contractf("%d scores with %d timeframes", len(scores), len(timeframes))
	}
	if len(timeframes) == 0 {
		return ScoresWithTimes{Scores: scores}
	}
	for _, tf := range timeframes[1:] {
		if tf != timeframes[0] {
			return ScoresWithTimes{Scores: scores, timeframes: timeframes}
		}
	}
	return BroadcastScores(scores, timeframes[0])
}

// BroadcastScores builds a batched result in which every score shares tf.
func BroadcastScores(scores []float64, tf TimeIndex) ScoresWithTimes {
	return ScoresWithTimes{Scores: scores, broadcast: tf}
}

// Len returns the number of results.
func (s ScoresWithTimes) Len() int { return len(s.Scores) }

// Broadcast reports whether all results share one timeframe.
func (s ScoresWithTimes) Broadcast() bool { return s.timeframes == nil }

// TimeframeAt returns the timeframe of result i.
func (s ScoresWithTimes) TimeframeAt(i int) TimeIndex {
	if s.timeframes == nil {
		return s.broadcast
	}
	return s.timeframes[i]
}

// At returns result i as a scalar result.
func (s ScoresWithTimes) At(i int) ScoreWithTime {
	return ScoreWithTime{Score: s.Scores[i], Timeframe: s.TimeframeAt(i)}
}

// Timeframes expands to one timeframe per result.
func (s ScoresWithTimes) Timeframes() []TimeIndex {
	if s.timeframes != nil {
		return append([]TimeIndex(nil), s.timeframes...)
	}
	out := make([]TimeIndex, len(s.Scores))
	for i := range out {
		out[i] = s.broadcast
	}
	return out
}
