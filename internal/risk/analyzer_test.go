package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/logging"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/registry"
)

func graph(t *testing.T, entities ...*models.Entity) *registry.Registry {
	t.Helper()
	r := registry.New(registry.Options{Root: t.TempDir(), Logger: logging.Discard()})
	for _, e := range entities {
		_, err := r.Register(context.Background(), e)
		require.NoError(t, err)
	}
	return r
}

func fn(id string, callers ...string) *models.Entity {
	e := &models.Entity{ID: id, Name: id, Type: models.TypeFunction, Path: id + ".py"}
	e.Callers = callers
	return e
}

func risky(e *models.Entity, semver models.SemverImpact) *models.Entity {
	e.BreakingChangeRisk = models.RiskLevelHigh
	e.SemverImpact = semver
	return e
}

func TestTransitiveImpact(t *testing.T) {
	r := graph(t,
		risky(fn("X", "Y", "Z"), models.SemverMajor),
		fn("Y", "W"),
		fn("Z"),
		fn("W"),
	)

	report := NewAnalyzer(r, models.DefaultCallerThreshold, logging.Discard()).Analyze([]string{"X"})
	require.True(t, report.HasBreaking())
	require.Len(t, report.Entries, 1)

	entry := report.Entries[0]
	assert.Equal(t, "X", entry.ChangedID)
	assert.Equal(t, models.SemverMajor, entry.SemverImpact)
	assert.ElementsMatch(t, []string{"Y", "Z", "W"}, entry.Impacted)
	assert.Equal(t, []string{"Y", "Z", "W"}, entry.Impacted, "breadth-first order")
	assert.Equal(t, []string{"high breaking-change risk"}, entry.Reasons)
	assert.Equal(t, models.SemverMajor, report.RequiredBump())
}

func TestCycleTerminates(t *testing.T) {
	r := graph(t,
		risky(fn("A", "B"), models.SemverMinor),
		fn("B", "A"),
	)

	report := NewAnalyzer(r, models.DefaultCallerThreshold, nil).Analyze([]string{"A"})
	require.Len(t, report.Entries, 1)
	assert.Equal(t, []string{"B"}, report.Entries[0].Impacted)
}

func TestSelfCycleAndForwardReference(t *testing.T) {
	self := risky(fn("S", "S", "ghost", "T"), models.SemverMajor)
	r := graph(t, self, fn("T", "ghost", "S"))

	report := NewAnalyzer(r, models.DefaultCallerThreshold, nil).Analyze([]string{"S"})
	require.Len(t, report.Entries, 1)
	assert.Equal(t, []string{"ghost", "T"}, report.Entries[0].Impacted)
}

func TestSafeAndMissing(t *testing.T) {
	busy := fn("busy", "a", "b", "c", "d")
	quiet := fn("quiet", "a")
	public := fn("pub")
	public.PublicAPI = true
	r := graph(t, busy, quiet, public)

	report := NewAnalyzer(r, 3, nil).Analyze([]string{"busy", "quiet", "pub", "nope", "busy"})

	require.Len(t, report.Entries, 2)
	assert.Equal(t, "busy", report.Entries[0].ChangedID)
	assert.Equal(t, []string{"4 callers exceed threshold of 3"}, report.Entries[0].Reasons)
	assert.Equal(t, models.SemverPatch, report.Entries[0].SemverImpact)
	assert.Equal(t, []string{"a", "b", "c", "d"}, report.Entries[0].Impacted)

	assert.Equal(t, "pub", report.Entries[1].ChangedID)
	assert.Empty(t, report.Entries[1].Impacted, "no callers is a valid outcome")

	assert.Equal(t, []string{"quiet"}, report.Safe)
	assert.Equal(t, []string{"nope"}, report.Missing)
	assert.Equal(t, 4, report.ImpactedCount())
}

func TestNoBreakingChanges(t *testing.T) {
	r := graph(t, fn("a", "b"), fn("b"))

	report := NewAnalyzer(r, models.DefaultCallerThreshold, nil).Analyze([]string{"a", "b"})
	assert.False(t, report.HasBreaking())
	assert.Empty(t, report.Entries)
	assert.Equal(t, models.SemverImpact(""), report.RequiredBump())
	assert.False(t, Policy{FailOn: models.SemverPatch}.Blocks(report))
}

func TestAnalyzeFiles(t *testing.T) {
	core := risky(fn("core", "api"), models.SemverMajor)
	core.Path = "pkg/core.py"
	helper := fn("helper")
	helper.Path = "pkg/core.py"
	r := graph(t, core, helper, fn("api"))

	report := NewAnalyzer(r, models.DefaultCallerThreshold, nil).AnalyzeFiles([]string{"./pkg/core.py", "missing.py"})
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "core", report.Entries[0].ChangedID)
	assert.Equal(t, []string{"helper"}, report.Safe)
}

func TestPolicy(t *testing.T) {
	minor := &Report{Entries: []Entry{{ChangedID: "a", SemverImpact: models.SemverMinor}}}
	major := &Report{Entries: []Entry{
		{ChangedID: "a", SemverImpact: models.SemverMinor},
		{ChangedID: "b", SemverImpact: models.SemverMajor},
	}}

	tests := []struct {
		name   string
		policy Policy
		report *Report
		want   bool
	}{
		{"major blocks on major", Policy{FailOn: models.SemverMajor}, major, true},
		{"minor passes on major", Policy{FailOn: models.SemverMajor}, minor, false},
		{"minor blocks on minor", Policy{FailOn: models.SemverMinor}, minor, true},
		{"warn only", Policy{FailOn: models.SemverPatch, WarnOnly: true}, major, false},
		{"invalid fail-on means major", Policy{FailOn: "bogus"}, minor, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Blocks(tt.report))
		})
	}

	p := PolicyFromConfig(config.RiskConfig{FailOn: "minor"})
	assert.Equal(t, models.SemverMinor, p.FailOn)
	p = PolicyFromConfig(config.RiskConfig{FailOn: ""})
	assert.Equal(t, models.SemverMajor, p.FailOn)
}

func TestZeroThresholdCountsAnyCaller(t *testing.T) {
	r := graph(t, fn("quiet", "a"), fn("alone"))

	report := NewAnalyzer(r, 0, nil).Analyze([]string{"quiet", "alone"})
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "quiet", report.Entries[0].ChangedID)
	assert.Equal(t, []string{"1 callers exceed threshold of 0"}, report.Entries[0].Reasons)
	assert.Equal(t, []string{"alone"}, report.Safe)
}
