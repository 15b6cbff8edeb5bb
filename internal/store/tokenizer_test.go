package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "Kita Handover", []string{"kita", "handover"}},
		{"punctuation", "times: 4:30 PM, October-15!", []string{"times", "4", "30", "pm", "october", "15"}},
		{"empty", "", nil},
		{"only separators", "... --- !!!", nil},
		{"mixed case", "NewParents FAQ", []string{"newparents", "faq"}},
		{"unicode", "über café", []string{"über", "café"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestTokenSet_Deduplicates(t *testing.T) {
	set := TokenSet("handover handover Handover kita")
	assert.Len(t, set, 2)
	assert.Contains(t, set, "handover")
	assert.Contains(t, set, "kita")
}

func TestJaccard(t *testing.T) {
	a := TokenSet("the quick brown fox")
	b := TokenSet("the quick brown fox")
	c := TokenSet("completely different words here")

	assert.Equal(t, 1.0, Jaccard(a, b))
	assert.Equal(t, 0.0, Jaccard(a, c))

	// Half overlap: {quick, brown} over {quick, brown, fox, dog}.
	d := TokenSet("quick brown")
	e := TokenSet("quick brown fox dog")
	assert.InDelta(t, 0.5, Jaccard(d, e), 1e-9)
}

func TestJaccard_EmptySets(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard(TokenSet("word"), nil))
}
