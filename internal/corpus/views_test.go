package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/store"
)

func newTestManager() *Manager {
	return NewManager(config.CorpusConfig{
		MinQuality:       0.5,
		MinSignalness:    0.3,
		CollectionPrefix: "quaero",
	})
}

func TestShouldBeCanonical(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name string
		meta store.DocumentMeta
		want bool
	}{
		{
			name: "passes all checks",
			meta: store.DocumentMeta{DoIndex: true, QualityScore: 0.8, Signalness: 0.6},
			want: true,
		},
		{
			name: "exactly at thresholds passes",
			meta: store.DocumentMeta{DoIndex: true, QualityScore: 0.5, Signalness: 0.3},
			want: true,
		},
		{
			name: "quality below threshold",
			meta: store.DocumentMeta{DoIndex: true, QualityScore: 0.49, Signalness: 0.6},
			want: false,
		},
		{
			name: "signalness below threshold",
			meta: store.DocumentMeta{DoIndex: true, QualityScore: 0.8, Signalness: 0.29},
			want: false,
		},
		{
			name: "do_index false",
			meta: store.DocumentMeta{DoIndex: false, QualityScore: 0.9, Signalness: 0.9},
			want: false,
		},
		{
			name: "duplicate excluded",
			meta: store.DocumentMeta{DoIndex: true, QualityScore: 0.9, Signalness: 0.9, IsDuplicate: true},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ShouldBeCanonical(tt.meta))
		})
	}
}

// Canonical membership always implies full membership, and full always
// contains the document regardless of metadata.
func TestViewsFor_CanonicalSubsetOfFull(t *testing.T) {
	m := newTestManager()

	metas := []store.DocumentMeta{
		{DoIndex: true, QualityScore: 0.9, Signalness: 0.9},
		{DoIndex: true, QualityScore: 0.1, Signalness: 0.9},
		{DoIndex: false, QualityScore: 0.9, Signalness: 0.9},
		{DoIndex: true, QualityScore: 0.9, Signalness: 0.9, IsDuplicate: true},
		{},
	}

	for _, meta := range metas {
		views := m.ViewsFor(meta)
		assert.NotEmpty(t, views)
		assert.Contains(t, views, ViewFull)

		inCanonical := false
		for _, v := range views {
			if v == ViewCanonical {
				inCanonical = true
			}
		}
		assert.Equal(t, m.ShouldBeCanonical(meta), inCanonical)
	}
}

func TestViewNames(t *testing.T) {
	m := newTestManager()

	names := m.ViewNames(store.DocumentMeta{DoIndex: true, QualityScore: 0.9, Signalness: 0.9})
	assert.Equal(t, []string{"full", "canonical"}, names)

	names = m.ViewNames(store.DocumentMeta{DoIndex: false})
	assert.Equal(t, []string{"full"}, names)
}

func TestCollectionName(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, "quaero_canonical", m.CollectionName(ViewCanonical))
	assert.Equal(t, "quaero_full", m.CollectionName(ViewFull))
}

func TestSuggestView(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name     string
		intent   string
		override View
		want     View
	}{
		{"default is canonical", "", "", ViewCanonical},
		{"audit intent forces full", "audit", "", ViewFull},
		{"compliance intent forces full", "compliance", "", ViewFull},
		{"comprehensive intent forces full", "Comprehensive", "", ViewFull},
		{"intent beats override", "audit", ViewCanonical, ViewFull},
		{"explicit override honored", "lookup", ViewFull, ViewFull},
		{"unknown override ignored", "lookup", View("bogus"), ViewCanonical},
		{"ordinary intent defaults canonical", "question", "", ViewCanonical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.SuggestView(tt.intent, tt.override))
		})
	}
}
