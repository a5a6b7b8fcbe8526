package language

import (
	"math"
	"strings"
	"testing"

	"github.com/ieee0824/labelscore/label"
)

const testARPA = `\data\
ngram 1=5
ngram 2=3

\1-grams:
-1.0	</s>
-99	<s>	-0.5
-0.5	東京
-0.7	タワー	-0.3
-2.0	<unk>

\2-grams:
-0.3	<s>	東京
-0.4	東京	タワー
-0.2	タワー	</s>

\end\
`

func loadTestModel(t *testing.T) (*Model, map[string]label.TokenID) {
	t.Helper()
	model, err := LoadARPA(strings.NewReader(testARPA), nil)
	if err != nil {
		t.Fatalf("LoadARPA error: %v", err)
	}
	ids := map[string]label.TokenID{}
	for _, w := range model.Vocabulary().Words() {
		ids[w], _ = model.Vocabulary().ID(w)
	}
	return model, ids
}

func TestLoadARPA(t *testing.T) {
	model, ids := loadTestModel(t)

	if model.Order() != 2 {
		t.Errorf("Order = %d, want 2", model.Order())
	}
	if model.Count(1) != 5 {
		t.Errorf("Count(1) = %d, want 5", model.Count(1))
	}
	if model.Count(2) != 3 {
		t.Errorf("Count(2) = %d, want 3", model.Count(2))
	}
	if model.Vocabulary().Len() != 5 {
		t.Errorf("vocabulary size = %d, want 5", model.Vocabulary().Len())
	}
	if got := model.Vocabulary().Word(model.BOS()); got != SentenceStart {
		t.Errorf("BOS maps to %q", got)
	}

	// log10 prob -0.5 -> ln prob -0.5 * ln(10)
	lp := model.LogProb(nil, ids["東京"])
	if want := -0.5 * math.Ln10; math.Abs(lp-want) > 1e-10 {
		t.Errorf("unigram LogProb(東京) = %f, want %f", lp, want)
	}
}

func TestLoadARPAWithFixedVocabulary(t *testing.T) {
	vocab := NewVocabulary("<blank>", "タワー", "東京")
	model, err := LoadARPA(strings.NewReader(testARPA), vocab)
	if err != nil {
		t.Fatalf("LoadARPA error: %v", err)
	}
	if id, _ := vocab.ID("東京"); id != 2 {
		t.Errorf("東京 id = %d, want 2", id)
	}
	lp := model.LogProb([]label.TokenID{model.BOS()}, 2)
	if want := -0.3 * math.Ln10; math.Abs(lp-want) > 1e-10 {
		t.Errorf("LogProb(<s>, 東京) = %f, want %f", lp, want)
	}
}

func TestLogProb_Bigram(t *testing.T) {
	model, ids := loadTestModel(t)

	lp := model.LogProb([]label.TokenID{ids["<s>"]}, ids["東京"])
	want := -0.3 * math.Ln10
	if math.Abs(lp-want) > 1e-10 {
		t.Errorf("LogProb(<s>, 東京) = %f, want %f", lp, want)
	}
}

func TestLogProb_Backoff(t *testing.T) {
	model, ids := loadTestModel(t)

	// no bigram (タワー, 東京): backoff(タワー) + P(東京)
	lp := model.LogProb([]label.TokenID{ids["タワー"]}, ids["東京"])
	want := -0.3*math.Ln10 + -0.5*math.Ln10
	if math.Abs(lp-want) > 1e-10 {
		t.Errorf("LogProb(タワー, 東京) = %f, want %f", lp, want)
	}

	// only the last order-1 tokens count
	long := model.LogProb([]label.TokenID{ids["東京"], ids["東京"], ids["タワー"]}, ids["東京"])
	if math.Abs(long-want) > 1e-10 {
		t.Errorf("long history LogProb = %f, want %f", long, want)
	}
}

func TestLogProb_Unknown(t *testing.T) {
	model, _ := loadTestModel(t)
	oov := model.Vocabulary().Intern("駅")

	lp := model.LogProb(nil, oov)
	if want := -2.0 * math.Ln10; math.Abs(lp-want) > 1e-10 {
		t.Errorf("LogProb(駅) = %f, want <unk> %f", lp, want)
	}

	plain := NewModel(1, nil)
	if lp := plain.LogProb(nil, plain.Vocabulary().Intern("x")); !math.IsInf(lp, -1) {
		t.Errorf("LogProb without <unk> = %f, want -Inf", lp)
	}
}

func TestSentenceLogProb(t *testing.T) {
	model, ids := loadTestModel(t)

	lp := model.SentenceLogProb([]label.TokenID{ids["東京"], ids["タワー"]})
	want := -0.3*math.Ln10 + -0.4*math.Ln10 + -0.2*math.Ln10
	if math.Abs(lp-want) > 1e-10 {
		t.Errorf("SentenceLogProb = %f, want %f", lp, want)
	}
}

func TestLoadARPAErrors(t *testing.T) {
	tests := map[string]string{
		"no header":      "\\1-grams:\n-1 a\n\\end\\\n",
		"no counts":      "\\data\\\n\\1-grams:\n-1 a\n\\end\\\n",
		"count mismatch": "\\data\\\nngram 1=2\n\\1-grams:\n-1 a\n\\end\\\n",
		"bad prob":       "\\data\\\nngram 1=1\n\\1-grams:\nx a\n\\end\\\n",
		"short line":     "\\data\\\nngram 1=1\nngram 2=1\n\\1-grams:\n-1 a\n\\2-grams:\n-1 a\n\\end\\\n",
		"no end":         "\\data\\\nngram 1=1\n\\1-grams:\n-1 a\n",
		"deep section":   "\\data\\\nngram 1=1\n\\1-grams:\n-1 a\n\\2-grams:\n\\end\\\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadARPA(strings.NewReader(text), nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}
