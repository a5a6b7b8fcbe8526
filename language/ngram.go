package language

import (
	"encoding/binary"

	"github.com/ieee0824/labelscore/internal/mathutil"
	"github.com/ieee0824/labelscore/label"
)

// Model is a backoff n-gram model over token ids. Probabilities are natural
// logs.
type Model struct {
	order  int
	vocab  *Vocabulary
	bos    label.TokenID
	eos    label.TokenID
	unk    label.TokenID
	hasUnk bool

	grams []map[string]entry // grams[n-1] holds the n-grams
}

type entry struct {
	LogProb    float64
	LogBackoff float64
}

// NewModel creates an empty model of the given order. The sentence
// boundary symbols are interned into vocab.
func NewModel(order int, vocab *Vocabulary) *Model {
	if vocab == nil {
		vocab = NewVocabulary()
	}
	m := &Model{
		order: max(order, 1),
		vocab: vocab,
		bos:   vocab.Intern(SentenceStart),
		eos:   vocab.Intern(SentenceEnd),
	}
	m.grams = make([]map[string]entry, m.order)
	for i := range m.grams {
		m.grams[i] = make(map[string]entry)
	}
	return m
}

func (m *Model) Order() int              { return m.order }
func (m *Model) Vocabulary() *Vocabulary { return m.vocab }
func (m *Model) BOS() label.TokenID      { return m.bos }
func (m *Model) EOS() label.TokenID      { return m.eos }

// Count returns the number of n-grams of order n.
func (m *Model) Count(n int) int {
	if n < 1 || n > m.order {
		return 0
	}
	return len(m.grams[n-1])
}

func gramKey(tokens []label.TokenID, last ...label.TokenID) string {
	buf := make([]byte, 0, 4*(len(tokens)+len(last)))
	for _, t := range tokens {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(t))
	}
	for _, t := range last {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(t))
	}
	return string(buf)
}

// Add stores one n-gram. Grams longer than the model order are ignored.
func (m *Model) Add(tokens []label.TokenID, logProb, logBackoff float64) {
	n := len(tokens)
	if n == 0 || n > m.order {
		return
	}
	if n == 1 && m.vocab.Word(tokens[0]) == Unknown {
		m.unk, m.hasUnk = tokens[0], true
	}
	m.grams[n-1][gramKey(tokens)] = entry{LogProb: logProb, LogBackoff: logBackoff}
}

// LogProb returns log P(tok | history), backing off through shorter
// histories. Only the last order-1 history tokens are used. A token without
// a unigram falls back to <unk> when the model has one.
func (m *Model) LogProb(history []label.TokenID, tok label.TokenID) float64 {
	if n := m.order - 1; len(history) > n {
		history = history[len(history)-n:]
	}
	if _, ok := m.grams[0][gramKey(nil, tok)]; !ok && m.hasUnk {
		tok = m.unk
	}
	backoff := 0.0
	for {
		if e, ok := m.grams[len(history)][gramKey(history, tok)]; ok {
			return backoff + e.LogProb
		}
		if len(history) == 0 {
			return mathutil.LogZero
		}
		if e, ok := m.grams[len(history)-1][gramKey(history)]; ok {
			backoff += e.LogBackoff
		}
		history = history[1:]
	}
}

// SentenceLogProb scores tokens framed by <s> and </s>.
func (m *Model) SentenceLogProb(tokens []label.TokenID) float64 {
	history := []label.TokenID{m.bos}
	total := 0.0
	for _, t := range tokens {
		total += m.LogProb(history, t)
		history = append(history, t)
	}
	return total + m.LogProb(history, m.eos)
}
