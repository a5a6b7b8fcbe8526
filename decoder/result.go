package decoder

import (
	"strings"

	"github.com/ieee0824/labelscore/label"
)

// Result holds the decoding output.
type Result struct {
	Tokens   []label.TokenID // emitted labels, blanks and repeats collapsed
	Labels   []Label         // per-label details
	LogScore float64         // total log probability, sentence end included
	Steps    int             // number of scorer extensions taken
}

// Label holds per-label timing and score information.
type Label struct {
	Token    label.TokenID
	Frame    label.TimeIndex // timeframe the scorer attributed the label to
	LogScore float64
}

// Text joins the labels' symbols with sep. symbol maps a token to its text.
func (r *Result) Text(symbol func(label.TokenID) string, sep string) string {
	words := make([]string, len(r.Tokens))
	for i, t := range r.Tokens {
		words[i] = symbol(t)
	}
	return strings.Join(words, sep)
}
