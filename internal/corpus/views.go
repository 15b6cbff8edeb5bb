// Package corpus classifies documents into logical corpus views and
// resolves which view a query should search.
//
// Two views exist: "full" holds every indexed document, "canonical" only
// documents passing the quality, signal, and duplicate checks. Canonical
// is always a subset of full.
package corpus

import (
	"strings"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/store"
)

// View identifies a logical corpus view.
type View string

const (
	// ViewCanonical holds high-quality, deduplicated documents.
	ViewCanonical View = "canonical"

	// ViewFull holds every indexed document.
	ViewFull View = "full"
)

// Valid reports whether v names a known view.
func (v View) Valid() bool {
	return v == ViewCanonical || v == ViewFull
}

// Manager applies the canonical admission thresholds and resolves
// query-time view selection.
type Manager struct {
	minQuality    float64
	minSignalness float64
	prefix        string
}

// NewManager creates a view manager from corpus configuration.
func NewManager(cfg config.CorpusConfig) *Manager {
	return &Manager{
		minQuality:    cfg.MinQuality,
		minSignalness: cfg.MinSignalness,
		prefix:        cfg.CollectionPrefix,
	}
}

// ShouldBeCanonical reports whether a document passes canonical
// admission. Threshold comparisons are inclusive: a document at the
// exact threshold passes.
func (m *Manager) ShouldBeCanonical(meta store.DocumentMeta) bool {
	return meta.DoIndex &&
		meta.QualityScore >= m.minQuality &&
		meta.Signalness >= m.minSignalness &&
		!meta.IsDuplicate
}

// ViewsFor returns the non-empty view set a document belongs to.
// Every document belongs to full; canonical membership is conditional.
func (m *Manager) ViewsFor(meta store.DocumentMeta) []View {
	views := []View{ViewFull}
	if m.ShouldBeCanonical(meta) {
		views = append(views, ViewCanonical)
	}
	return views
}

// ViewNames returns ViewsFor as plain strings for persistence.
func (m *Manager) ViewNames(meta store.DocumentMeta) []string {
	views := m.ViewsFor(meta)
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = string(v)
	}
	return names
}

// CollectionName maps a view to its physical collection name.
func (m *Manager) CollectionName(view View) string {
	return m.prefix + "_" + string(view)
}

// fullIntents are query intents that need exhaustive recall over the
// whole corpus rather than the curated canonical slice.
var fullIntents = map[string]bool{
	"audit":         true,
	"compliance":    true,
	"comprehensive": true,
	"exhaustive":    true,
}

// SuggestView resolves the view a query should search. Intents that
// signal audit or comprehensive needs force full; an explicit override
// wins next; everything else defaults to canonical.
func (m *Manager) SuggestView(intent string, override View) View {
	if fullIntents[strings.ToLower(strings.TrimSpace(intent))] {
		return ViewFull
	}
	if override.Valid() {
		return override
	}
	return ViewCanonical
}
