package language

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ieee0824/labelscore/label"
)

// Sentence boundary and unknown-word symbols.
const (
	SentenceStart = "<s>"
	SentenceEnd   = "</s>"
	Unknown       = "<unk>"
)

// Vocabulary maps output symbols to token ids. Ids are dense and assigned in
// insertion order, so a vocabulary listing the recognizer's output layer in
// order gives ids matching the acoustic scores.
type Vocabulary struct {
	words []string
	ids   map[string]label.TokenID
}

// NewVocabulary interns words in order.
func NewVocabulary(words ...string) *Vocabulary {
	v := &Vocabulary{ids: make(map[string]label.TokenID, len(words))}
	for _, w := range words {
		v.Intern(w)
	}
	return v
}

// LoadVocabulary reads one symbol per line; only the first field of a line
// counts, so "word id" listings load too. Duplicates are an error.
func LoadVocabulary(r io.Reader) (*Vocabulary, error) {
	v := NewVocabulary()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if _, dup := v.ids[fields[0]]; dup {
			return nil, fmt.Errorf("vocabulary line %d: duplicate symbol %q", line, fields[0])
		}
		v.Intern(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return v, nil
}

// Intern returns the id of w, adding it when new.
func (v *Vocabulary) Intern(w string) label.TokenID {
	if id, ok := v.ids[w]; ok {
		return id
	}
	id := label.TokenID(len(v.words))
	v.words = append(v.words, w)
	v.ids[w] = id
	return id
}

// ID looks a symbol up.
func (v *Vocabulary) ID(w string) (label.TokenID, bool) {
	id, ok := v.ids[w]
	return id, ok
}

// Word returns the symbol of id, or "" when out of range.
func (v *Vocabulary) Word(id label.TokenID) string {
	if id < 0 || int(id) >= len(v.words) {
		return ""
	}
	return v.words[id]
}

// Len returns the number of symbols.
func (v *Vocabulary) Len() int { return len(v.words) }

// Words returns the symbols in id order.
func (v *Vocabulary) Words() []string { return append([]string(nil), v.words...) }

// Decode maps token ids to symbols.
func (v *Vocabulary) Decode(ids []label.TokenID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = v.Word(id)
	}
	return out
}
