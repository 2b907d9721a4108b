package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/entitystore/internal/cache"
	"github.com/rohankatakam/entitystore/internal/graph"
	"github.com/rohankatakam/entitystore/internal/ingestion"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/query"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/risk"
)

// maxListed caps how many impacted ids the text report shows per entry
const maxListed = 5

// ImpactReport writes a breaking-change report
func (p *Printer) ImpactReport(report *risk.Report) error {
	if p.JSON() {
		return p.WriteJSON(struct {
			*risk.Report
			HasBreaking  bool                `json:"has_breaking"`
			RequiredBump models.SemverImpact `json:"required_bump,omitempty"`
		}{report, report.HasBreaking(), report.RequiredBump()})
	}

	w := p.w
	p.Header("Breaking Change Analysis")

	if !report.HasBreaking() {
		p.green().Fprintln(w, "No breaking changes detected.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Changes are backwards compatible (patch/minor version).")
	} else {
		p.red().Fprintln(w, "BREAKING CHANGES DETECTED:")
		fmt.Fprintln(w)
		for _, e := range report.Entries {
			fmt.Fprintf(w, "  %s (%s version bump required)\n", label(e), strings.ToUpper(string(e.SemverImpact)))
			if len(e.Reasons) > 0 {
				p.gray().Fprintf(w, "  │   %s\n", strings.Join(e.Reasons, "; "))
			}
			fmt.Fprintf(w, "  └── Impacts %d downstream entities:\n", len(e.Impacted))
			for i, id := range e.Impacted {
				if i == maxListed {
					fmt.Fprintf(w, "      ... and %d more\n", len(e.Impacted)-maxListed)
					break
				}
				fmt.Fprintf(w, "      • %s\n", id)
			}
			fmt.Fprintln(w)
		}
		p.yellow().Fprintf(w, "Required bump: %s\n", strings.ToUpper(string(report.RequiredBump())))
	}

	if len(report.Safe) > 0 {
		fmt.Fprintf(w, "\nSafe changes: %s\n", strings.Join(report.Safe, ", "))
	}
	if len(report.Missing) > 0 {
		p.yellow().Fprintf(w, "Unknown ids: %s\n", strings.Join(report.Missing, ", "))
	}
	return nil
}

func label(e risk.Entry) string {
	if e.Name == "" || e.Name == e.ChangedID {
		return e.ChangedID
	}
	return fmt.Sprintf("%s [%s]", e.Name, e.ChangedID)
}

// QueryResult writes projected records. fields orders the columns; when
// empty the default projection is used.
func (p *Printer) QueryResult(res *query.Result, fields []string) error {
	if p.JSON() {
		return p.WriteJSON(res)
	}
	p.records(res.Records, fields)
	more := ""
	if res.HasMore {
		more = ", more available"
	}
	p.gray().Fprintf(p.w, "\n%d of %d entities%s\n", len(res.Records), res.TotalCount, more)
	return nil
}

// SearchResult writes ranked records with their scores
func (p *Printer) SearchResult(res *query.SearchResult, fields []string) error {
	if p.JSON() {
		return p.WriteJSON(res)
	}
	if len(res.Records) == 0 {
		fmt.Fprintf(p.w, "No entities match %q\n", res.Query)
		return nil
	}
	if len(fields) == 0 {
		fields = models.DefaultFields
	}
	p.records(res.Records, append(append([]string{}, fields...), query.ScoreField))
	return nil
}

func (p *Printer) records(records []query.Record, fields []string) {
	if len(fields) == 0 {
		fields = models.DefaultFields
	}
	t := p.NewTable(fields...)
	for _, r := range records {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = cell(r[f])
		}
		t.AddRow(cells...)
	}
	t.Render()
}

// Hierarchy writes a depth-indented tree of records
func (p *Printer) Hierarchy(records []query.Record) error {
	if p.JSON() {
		return p.WriteJSON(records)
	}
	for _, r := range records {
		depth, _ := r["depth"].(int)
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(p.w, "%s%s %s", indent, cell(r[models.FieldType]), cell(r[models.FieldName]))
		p.gray().Fprintf(p.w, "  %s\n", cell(r[models.FieldID]))
	}
	return nil
}

// Entity writes every populated field of e
func (p *Printer) Entity(e *models.Entity) error {
	if p.JSON() {
		return p.WriteJSON(e)
	}
	var pairs [][2]string
	for _, name := range models.FieldNames() {
		v, _ := e.Field(name)
		if s := cell(v); s != "" {
			pairs = append(pairs, [2]string{name, s})
		}
	}
	p.KeyValues(pairs)
	return nil
}

// IndexResult writes the summary of an index run
func (p *Printer) IndexResult(res *ingestion.Result) error {
	if p.JSON() {
		return p.WriteJSON(res)
	}
	p.KeyValues([][2]string{
		{"root", res.Root},
		{"files", fmt.Sprintf("%d seen, %d indexed, %d skipped, %d removed", res.FilesSeen, res.FilesIndexed, res.FilesSkipped, res.FilesRemoved)},
		{"entities", fmt.Sprintf("%d added, %d updated, %d archived, %d unchanged", res.Added, res.Updated, res.Archived, res.Unchanged)},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})
	if len(res.Failures) > 0 {
		p.red().Fprintf(p.w, "\n%d files failed:\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(p.w, "  %s: %s\n", f.Path, f.Error)
		}
	}
	return nil
}

// RegistryStats writes entity counts
func (p *Printer) RegistryStats(s registry.Stats) error {
	if p.JSON() {
		return p.WriteJSON(s)
	}
	p.KeyValues([][2]string{
		{"entities", fmt.Sprint(s.Total)},
		{"files", fmt.Sprint(s.Files)},
		{"locks", fmt.Sprint(s.Locks)},
	})
	fmt.Fprintln(p.w)
	t := p.NewTable("type", "count")
	for _, k := range sortedKeys(s.ByType) {
		t.AddRow(k, fmt.Sprint(s.ByType[k]))
	}
	t.Render()
	fmt.Fprintln(p.w)
	t = p.NewTable("state", "count")
	for _, k := range sortedKeys(s.ByState) {
		t.AddRow(k, fmt.Sprint(s.ByState[k]))
	}
	t.Render()
	return nil
}

// CacheStats writes per-tier hit counters
func (p *Printer) CacheStats(s cache.Stats) error {
	if p.JSON() {
		return p.WriteJSON(struct {
			cache.Stats
			HitRate float64 `json:"hit_rate"`
		}{s, s.HitRate()})
	}
	t := p.NewTable("tier", "hits")
	for _, tier := range s.Tiers {
		t.AddRow(tier.Name, fmt.Sprint(tier.Hits))
	}
	t.Render()
	fmt.Fprintln(p.w)
	p.KeyValues([][2]string{
		{"misses", fmt.Sprint(s.Misses)},
		{"sets", fmt.Sprint(s.Sets)},
		{"invalidations", fmt.Sprint(s.Invalidations)},
		{"errors", fmt.Sprint(s.Errors)},
		{"hit rate", fmt.Sprintf("%.1f%%", s.HitRate()*100)},
	})
	return nil
}

// GraphSync writes the outcome of a Neo4j sync
func (p *Printer) GraphSync(res *graph.SyncResult) error {
	if p.JSON() {
		return p.WriteJSON(res)
	}
	p.KeyValues([][2]string{
		{"nodes", fmt.Sprint(res.Nodes)},
		{"edges", fmt.Sprint(res.Edges)},
		{"dangling", fmt.Sprint(res.Dangling)},
		{"pruned", fmt.Sprint(res.Pruned)},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})
	return nil
}

// Success writes a one-line confirmation
func (p *Printer) Success(format string, args ...interface{}) {
	if p.JSON() {
		_ = p.WriteJSON(map[string]string{"status": "ok", "message": fmt.Sprintf(format, args...)})
		return
	}
	p.green().Fprintf(p.w, format+"\n", args...)
}

func cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []interface{}:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = cell(item)
		}
		return strings.Join(parts, ", ")
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprint(int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	case bool:
		if !x {
			return ""
		}
		return "true"
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
