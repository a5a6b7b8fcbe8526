package language

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ieee0824/labelscore/label"
)

// LoadARPA reads a backoff model in ARPA format. ARPA log probabilities are
// base 10 and are converted to natural log. Every symbol is interned into
// vocab, which may be nil. The n-gram counts of the \data\ header must match
// the sections.
func LoadARPA(r io.Reader, vocab *Vocabulary) (*Model, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	next := func() (string, bool) {
		for scanner.Scan() {
			lineNo++
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				return line, true
			}
		}
		return "", false
	}

	line, ok := next()
	for ok && line != `\data\` {
		line, ok = next()
	}
	if !ok {
		return nil, fmt.Errorf("arpa: missing \\data\\ header")
	}

	declared := map[int]int{}
	order := 0
	for line, ok = next(); ok && strings.HasPrefix(line, "ngram "); line, ok = next() {
		n, count, err := parseCount(line[len("ngram "):])
		if err != nil {
			return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
		}
		declared[n] = count
		order = max(order, n)
	}
	if order == 0 {
		return nil, fmt.Errorf("arpa: no ngram counts")
	}

	model := NewModel(order, vocab)
	for ok && line != `\end\` {
		n, err := sectionOrder(line)
		if err != nil {
			return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
		}
		if n > order {
			return nil, fmt.Errorf("arpa line %d: section %d-grams beyond declared order %d", lineNo, n, order)
		}
		for line, ok = next(); ok && !strings.HasPrefix(line, `\`); line, ok = next() {
			if err := parseGram(model, n, line); err != nil {
				return nil, fmt.Errorf("arpa line %d: %w", lineNo, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read arpa: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("arpa: missing \\end\\ marker")
	}
	for n, want := range declared {
		if got := model.Count(n); got != want {
			return nil, fmt.Errorf("arpa: header declares %d %d-grams, read %d", want, n, got)
		}
	}
	return model, nil
}

func parseCount(s string) (n, count int, err error) {
	lhs, rhs, found := strings.Cut(s, "=")
	if !found {
		return 0, 0, fmt.Errorf("malformed count %q", s)
	}
	if n, err = strconv.Atoi(strings.TrimSpace(lhs)); err != nil || n < 1 {
		return 0, 0, fmt.Errorf("malformed order in %q", s)
	}
	if count, err = strconv.Atoi(strings.TrimSpace(rhs)); err != nil || count < 0 {
		return 0, 0, fmt.Errorf("malformed count in %q", s)
	}
	return n, count, nil
}

func sectionOrder(line string) (int, error) {
	s, found := strings.CutPrefix(line, `\`)
	if found {
		s, found = strings.CutSuffix(s, "-grams:")
	}
	if !found {
		return 0, fmt.Errorf("expected section header, got %q", line)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad section header %q", line)
	}
	return n, nil
}

func parseGram(model *Model, n int, line string) error {
	fields := strings.Fields(line)
	if len(fields) != n+1 && len(fields) != n+2 {
		return fmt.Errorf("%d fields for a %d-gram: %q", len(fields), n, line)
	}
	logProb, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("parse log prob: %w", err)
	}
	var logBackoff float64
	if len(fields) == n+2 {
		if logBackoff, err = strconv.ParseFloat(fields[n+1], 64); err != nil {
			return fmt.Errorf("parse backoff: %w", err)
		}
	}
	tokens := make([]label.TokenID, n)
	for i, w := range fields[1 : n+1] {
		tokens[i] = model.vocab.Intern(w)
	}
	model.Add(tokens, logProb*math.Ln10, logBackoff*math.Ln10)
	return nil
}
