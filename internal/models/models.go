package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EntityType is the closed set of indexed element kinds
type EntityType string

const (
	TypeModule    EntityType = "module"
	TypeClass     EntityType = "class"
	TypeMethod    EntityType = "method"
	TypeFunction  EntityType = "function"
	TypeParam     EntityType = "param"
	TypeHeading   EntityType = "heading"
	TypeCodeBlock EntityType = "code_block"
	TypeDocument  EntityType = "document"
	TypeConfig    EntityType = "config"
	TypeSchema    EntityType = "schema"
)

var entityTypes = map[EntityType]bool{
	TypeModule: true, TypeClass: true, TypeMethod: true, TypeFunction: true,
	TypeParam: true, TypeHeading: true, TypeCodeBlock: true, TypeDocument: true,
	TypeConfig: true, TypeSchema: true,
}

// Valid reports whether t is one of the known entity types
func (t EntityType) Valid() bool {
	return entityTypes[t]
}

// EntityTypes returns all entity types in declaration order
func EntityTypes() []EntityType {
	return []EntityType{
		TypeModule, TypeClass, TypeMethod, TypeFunction, TypeParam,
		TypeHeading, TypeCodeBlock, TypeDocument, TypeConfig, TypeSchema,
	}
}

// State is the lifecycle state of an entity
type State string

const (
	StateActive     State = "active"
	StateDeprecated State = "deprecated"
	StateArchived   State = "archived"
)

// Valid reports whether s is a known lifecycle state
func (s State) Valid() bool {
	return s == StateActive || s == StateDeprecated || s == StateArchived
}

// SemverImpact is the version bump implied by changing an entity
type SemverImpact string

const (
	SemverMajor SemverImpact = "major"
	SemverMinor SemverImpact = "minor"
	SemverPatch SemverImpact = "patch"
)

// Valid reports whether s is a known semver impact
func (s SemverImpact) Valid() bool {
	return s == SemverMajor || s == SemverMinor || s == SemverPatch
}

// Rank orders impacts so that major > minor > patch
func (s SemverImpact) Rank() int {
	switch s {
	case SemverMajor:
		return 2
	case SemverMinor:
		return 1
	default:
		return 0
	}
}

// RiskLevel represents how likely a change is to affect dependents
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	return r == RiskLevelLow || r == RiskLevelMedium || r == RiskLevelHigh
}

// DefaultCallerThreshold is the caller count above which a change is
// considered breaking
const DefaultCallerThreshold = 3

// Relations holds the graph-relevant attributes of an entity.
// Edge lists are id references and may point at entities that are not
// registered yet. A nil Dependencies slice means the list is unknown.
type Relations struct {
	Imports            []string     `json:"imports,omitempty"`
	Exports            []string     `json:"exports,omitempty"`
	Dependencies       []string     `json:"dependencies,omitempty"`
	Callers            []string     `json:"callers,omitempty"`
	Callees            []string     `json:"callees,omitempty"`
	SemverImpact       SemverImpact `json:"semver_impact,omitempty"`
	BreakingChangeRisk RiskLevel    `json:"breaking_change_risk,omitempty"`
	PublicAPI          bool         `json:"public_api,omitempty"`
	Actors             []string     `json:"actors,omitempty"`
}

// WouldBreakDependents reports whether a change to the owner of r is
// expected to break its callers
func (r Relations) WouldBreakDependents(callerThreshold int) bool {
	return r.BreakingChangeRisk == RiskLevelHigh ||
		r.PublicAPI ||
		len(r.Callers) > callerThreshold
}

// Entity is a node of the entity graph
type Entity struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Type        EntityType `json:"type" db:"type"`
	Path        string     `json:"path" db:"path"`
	LineStart   int        `json:"line_start,omitempty" db:"line_start"`
	LineEnd     int        `json:"line_end,omitempty" db:"line_end"`
	Language    string     `json:"language" db:"language"`
	State       State      `json:"state" db:"state"`
	Created     time.Time  `json:"created" db:"created"`
	LastUpdated time.Time  `json:"last_updated" db:"last_updated"`
	ParentID    string     `json:"parent_id,omitempty" db:"parent_id"`
	Signature   string     `json:"signature,omitempty" db:"signature"`
	Docstring   string     `json:"docstring,omitempty" db:"docstring"`

	// FrontmatterSignature is a content hash used for change detection
	FrontmatterSignature string `json:"frontmatter_signature,omitempty" db:"frontmatter_signature"`

	Relations

	// Metadata carries extension fields that have no typed home
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the fields every registered entity must carry
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("invalid entity type %q", e.Type)
	}
	if e.State != "" && !e.State.Valid() {
		return fmt.Errorf("invalid entity state %q", e.State)
	}
	return ValidateLineSpan(e.LineStart, e.LineEnd)
}

// ValidateLineSpan checks an optional line span. Zero means unset.
func ValidateLineSpan(start, end int) error {
	if start < 0 || end < 0 {
		return fmt.Errorf("line numbers must be positive")
	}
	if start > 0 && end > 0 && start > end {
		return fmt.Errorf("line_start %d is after line_end %d", start, end)
	}
	return nil
}

// SearchText is the deterministic text full-text search ranks over
func (e *Entity) SearchText() string {
	text := e.Name + " " + e.Path
	if e.Docstring != "" {
		text += " " + e.Docstring
	}
	return text
}

// IsArchived reports whether the entity has been soft-deleted
func (e *Entity) IsArchived() bool {
	return e.State == StateArchived
}

// Clone returns a deep copy of e
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Imports = cloneStrings(e.Imports)
	c.Exports = cloneStrings(e.Exports)
	c.Dependencies = cloneStrings(e.Dependencies)
	c.Callers = cloneStrings(e.Callers)
	c.Callees = cloneStrings(e.Callees)
	c.Actors = cloneStrings(e.Actors)
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// cloneStrings copies s, keeping the nil/empty distinction
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// ComputeSignature hashes the identifying fields of an entity together
// with its source text
func ComputeSignature(path, name string, entityType EntityType, source string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", path, name, entityType, source)))
	return hex.EncodeToString(sum[:])[:16]
}

// SearchHit is one ranked full-text search match
type SearchHit struct {
	ID    string  `json:"id" db:"id"`
	Score float64 `json:"score" db:"score"`
}

// SearchTerms splits a search query into distinct lowercase terms
func SearchTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(text)) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}
