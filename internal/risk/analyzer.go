// Package risk computes the blast radius of changing entities: which
// callers, transitively, a breaking change would reach.
package risk

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/registry"
)

// Source is the slice of the registry the analyzer reads
type Source interface {
	Get(id string) (*models.Entity, bool)
	Filter(opts registry.FilterOptions) []*models.Entity
}

// Entry is the impact of one breaking change
type Entry struct {
	ChangedID    string              `json:"changed_id"`
	Name         string              `json:"name"`
	Path         string              `json:"path"`
	SemverImpact models.SemverImpact `json:"semver_impact"`
	Reasons      []string            `json:"reasons"`
	// Impacted holds every transitive caller in breadth-first order.
	// Ids the registry does not know yet are included.
	Impacted []string `json:"impacted"`
}

// Report is the outcome of one analysis. An empty report is a valid
// result, not an error.
type Report struct {
	Entries []Entry `json:"entries"`
	// Safe lists changed entities that would not break dependents
	Safe []string `json:"safe,omitempty"`
	// Missing lists changed ids the registry does not know
	Missing []string `json:"missing,omitempty"`
}

// HasBreaking reports whether any change would break dependents
func (r *Report) HasBreaking() bool {
	return len(r.Entries) > 0
}

// RequiredBump is the largest semver impact across entries, or "" when
// nothing breaks
func (r *Report) RequiredBump() models.SemverImpact {
	var bump models.SemverImpact
	for _, e := range r.Entries {
		if bump == "" || e.SemverImpact.Rank() > bump.Rank() {
			bump = e.SemverImpact
		}
	}
	return bump
}

// ImpactedCount is the number of distinct impacted ids across entries
func (r *Report) ImpactedCount() int {
	seen := make(map[string]bool)
	for _, e := range r.Entries {
		for _, id := range e.Impacted {
			seen[id] = true
		}
	}
	return len(seen)
}

// Analyzer walks caller edges from changed entities
type Analyzer struct {
	source          Source
	callerThreshold int
	logger          *logrus.Logger
}

// NewAnalyzer creates an analyzer. A negative threshold uses the default;
// zero makes any caller count as a dependent that breaks.
func NewAnalyzer(source Source, callerThreshold int, logger *logrus.Logger) *Analyzer {
	if callerThreshold < 0 {
		callerThreshold = models.DefaultCallerThreshold
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Analyzer{source: source, callerThreshold: callerThreshold, logger: logger}
}

// Analyze reports the impact of changing each of changedIDs
func (a *Analyzer) Analyze(changedIDs []string) *Report {
	report := &Report{Entries: []Entry{}}
	done := make(map[string]bool, len(changedIDs))

	for _, id := range changedIDs {
		if done[id] {
			continue
		}
		done[id] = true

		e, ok := a.source.Get(id)
		if !ok {
			report.Missing = append(report.Missing, id)
			continue
		}
		if !e.WouldBreakDependents(a.callerThreshold) {
			report.Safe = append(report.Safe, id)
			continue
		}

		semver := e.SemverImpact
		if semver == "" {
			semver = models.SemverPatch
		}
		entry := Entry{
			ChangedID:    id,
			Name:         e.Name,
			Path:         e.Path,
			SemverImpact: semver,
			Reasons:      a.reasons(e),
			Impacted:     a.transitiveCallers(e),
		}
		report.Entries = append(report.Entries, entry)

		a.logger.WithFields(logrus.Fields{
			"entity_id": id,
			"semver":    semver,
			"impacted":  len(entry.Impacted),
		}).Debug("breaking change")
	}
	return report
}

// AnalyzeFiles analyzes every active entity of the given root-relative
// paths
func (a *Analyzer) AnalyzeFiles(paths []string) *Report {
	var ids []string
	for _, p := range paths {
		rel := filepath.ToSlash(filepath.Clean(p))
		for _, e := range a.source.Filter(registry.FilterOptions{}) {
			if e.Path == rel {
				ids = append(ids, e.ID)
			}
		}
	}
	return a.Analyze(ids)
}

// transitiveCallers runs a breadth-first walk over caller edges. The
// visited set makes it terminate on any graph shape, cycles included.
func (a *Analyzer) transitiveCallers(root *models.Entity) []string {
	visited := map[string]bool{root.ID: true}
	impacted := []string{}
	queue := append([]string{}, root.Callers...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		impacted = append(impacted, id)

		if caller, ok := a.source.Get(id); ok {
			for _, next := range caller.Callers {
				if !visited[next] {
					queue = append(queue, next)
				}
			}
		}
	}
	return impacted
}

func (a *Analyzer) reasons(e *models.Entity) []string {
	var reasons []string
	if e.BreakingChangeRisk == models.RiskLevelHigh {
		reasons = append(reasons, "high breaking-change risk")
	}
	if e.PublicAPI {
		reasons = append(reasons, "public API")
	}
	if n := len(e.Callers); n > a.callerThreshold {
		reasons = append(reasons, fmt.Sprintf("%d callers exceed threshold of %d", n, a.callerThreshold))
	}
	return reasons
}
