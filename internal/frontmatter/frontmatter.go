package frontmatter

import (
	"regexp"
	"time"

	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/models"
)

// Frontmatter keys, in canonical emission order
const (
	KeyID                 = "entity_id"
	KeyName               = "entity_name"
	KeyType               = "entity_type_id"
	KeyPath               = "entity_path"
	KeyLineStart          = "entity_line_start"
	KeyLineEnd            = "entity_line_end"
	KeyLanguage           = "entity_language"
	KeyState              = "entity_state"
	KeyCreated            = "entity_created"
	KeyLastUpdated        = "entity_last_updated"
	KeyImports            = "entity_imports"
	KeyExports            = "entity_exports"
	KeyDependencies       = "entity_dependencies"
	KeyCallers            = "entity_callers"
	KeyCallees            = "entity_callees"
	KeySemverImpact       = "entity_semver_impact"
	KeyBreakingChangeRisk = "entity_breaking_change_risk"
	KeyPublicAPI          = "entity_public_api"
	KeyActors             = "entity_actors"
	KeyDocstring          = "entity_docstring"
	KeySignature          = "entity_signature"
)

var knownKeys = map[string]bool{
	KeyID: true, KeyName: true, KeyType: true, KeyPath: true,
	KeyLineStart: true, KeyLineEnd: true, KeyLanguage: true, KeyState: true,
	KeyCreated: true, KeyLastUpdated: true, KeyImports: true, KeyExports: true,
	KeyDependencies: true, KeyCallers: true, KeyCallees: true,
	KeySemverImpact: true, KeyBreakingChangeRisk: true, KeyPublicAPI: true,
	KeyActors: true, KeyDocstring: true, KeySignature: true,
}

// Defaults applied to absent optional fields
const (
	DefaultLanguage = "python"
	DefaultState    = models.StateActive
	DefaultSemver   = models.SemverPatch
	DefaultRisk     = models.RiskLevelLow
)

// Frontmatter type ids outside the entity type set
const (
	TypeHook    = "hook"
	TypeCommand = "command"
	TypeRule    = "rule"
)

// extraParentKey carries an entity's parent id through the extension map
const extraParentKey = "entity_parent_id"

// metaTypeKey keeps a frontmatter-only type id on the converted entity
const metaTypeKey = "frontmatter_type_id"

var actorPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Frontmatter is the structured metadata block embedded in a source file.
// Nil lists are absent from the block; empty lists are written as [].
type Frontmatter struct {
	ID          string
	Name        string
	Type        string
	Path        string
	LineStart   int
	LineEnd     int
	Language    string
	State       models.State
	Created     string
	LastUpdated string

	Imports      []string
	Exports      []string
	Dependencies []string
	Callers      []string
	Callees      []string

	SemverImpact       models.SemverImpact
	BreakingChangeRisk models.RiskLevel
	PublicAPI          bool
	Actors             []string

	Docstring string
	Signature string

	// Extra holds unknown keys so that newer blocks survive a rewrite
	Extra map[string]interface{}
}

// ValidType reports whether t is an accepted entity_type_id
func ValidType(t string) bool {
	switch t {
	case TypeHook, TypeCommand, TypeRule:
		return true
	}
	return models.EntityType(t).Valid()
}

// WithDefaults returns a copy of f with absent optional enums filled in
func (f *Frontmatter) WithDefaults() *Frontmatter {
	c := *f
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.State == "" {
		c.State = DefaultState
	}
	if c.SemverImpact == "" {
		c.SemverImpact = DefaultSemver
	}
	if c.BreakingChangeRisk == "" {
		c.BreakingChangeRisk = DefaultRisk
	}
	return &c
}

// Validate checks f against the frontmatter schema. Optional enums must
// already carry a value; use WithDefaults to fill them.
func Validate(f *Frontmatter) error {
	if f == nil {
		return errors.SchemaErrorf("frontmatter is nil")
	}
	switch {
	case f.ID == "":
		return errors.SchemaErrorf("%s is required", KeyID)
	case f.Name == "":
		return errors.SchemaErrorf("%s is required", KeyName)
	case f.Path == "":
		return errors.SchemaErrorf("%s is required", KeyPath)
	case f.Created == "":
		return errors.SchemaErrorf("%s is required", KeyCreated)
	case f.Language == "":
		return errors.SchemaErrorf("%s is required", KeyLanguage)
	}
	if !ValidType(f.Type) {
		return errors.SchemaErrorf("invalid %s %q", KeyType, f.Type)
	}
	if !f.State.Valid() {
		return errors.SchemaErrorf("invalid %s %q", KeyState, f.State)
	}
	if !f.SemverImpact.Valid() {
		return errors.SchemaErrorf("invalid %s %q", KeySemverImpact, f.SemverImpact)
	}
	if !f.BreakingChangeRisk.Valid() {
		return errors.SchemaErrorf("invalid %s %q", KeyBreakingChangeRisk, f.BreakingChangeRisk)
	}
	if err := models.ValidateLineSpan(f.LineStart, f.LineEnd); err != nil {
		return errors.SchemaErrorf("%v", err)
	}
	for _, a := range f.Actors {
		if !actorPattern.MatchString(a) {
			return errors.SchemaErrorf("invalid actor %q", a)
		}
	}
	for k := range f.Extra {
		if knownKeys[k] {
			return errors.SchemaErrorf("extension key %q shadows a schema field", k)
		}
	}
	return nil
}

// Relations returns the graph attributes of f
func (f *Frontmatter) Relations() models.Relations {
	return models.Relations{
		Imports:            cloneStrings(f.Imports),
		Exports:            cloneStrings(f.Exports),
		Dependencies:       cloneStrings(f.Dependencies),
		Callers:            cloneStrings(f.Callers),
		Callees:            cloneStrings(f.Callees),
		SemverImpact:       f.SemverImpact,
		BreakingChangeRisk: f.BreakingChangeRisk,
		PublicAPI:          f.PublicAPI,
		Actors:             cloneStrings(f.Actors),
	}
}

// WouldBreakDependents reports whether changing the entity is expected to
// break its callers
func (f *Frontmatter) WouldBreakDependents(callerThreshold int) bool {
	return f.Relations().WouldBreakDependents(callerThreshold)
}

// UpstreamDependencies returns the ids this entity depends on or calls
func (f *Frontmatter) UpstreamDependencies() []string {
	return dedupe(f.Dependencies, f.Callees)
}

// DownstreamDependents returns the ids that call this entity
func (f *Frontmatter) DownstreamDependents() []string {
	return dedupe(f.Callers)
}

// FromEntity builds the frontmatter block describing e
func FromEntity(e *models.Entity) *Frontmatter {
	f := &Frontmatter{
		ID:                 e.ID,
		Name:               e.Name,
		Type:               string(e.Type),
		Path:               e.Path,
		LineStart:          e.LineStart,
		LineEnd:            e.LineEnd,
		Language:           e.Language,
		State:              e.State,
		Created:            formatTime(e.Created),
		Imports:            cloneStrings(e.Imports),
		Exports:            cloneStrings(e.Exports),
		Dependencies:       cloneStrings(e.Dependencies),
		Callers:            cloneStrings(e.Callers),
		Callees:            cloneStrings(e.Callees),
		SemverImpact:       e.SemverImpact,
		BreakingChangeRisk: e.BreakingChangeRisk,
		PublicAPI:          e.PublicAPI,
		Actors:             cloneStrings(e.Actors),
		Docstring:          e.Docstring,
		Signature:          e.Signature,
	}
	if !e.LastUpdated.IsZero() {
		f.LastUpdated = formatTime(e.LastUpdated)
	}
	if e.Created.IsZero() {
		f.Created = formatTime(time.Now())
	}
	if t, ok := e.Metadata[metaTypeKey].(string); ok && e.Type == models.TypeModule && ValidType(t) {
		f.Type = t
	}
	for k, v := range e.Metadata {
		if knownKeys[k] || k == metaTypeKey {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]interface{})
		}
		f.Extra[k] = v
	}
	if e.ParentID != "" {
		if f.Extra == nil {
			f.Extra = make(map[string]interface{})
		}
		f.Extra[extraParentKey] = e.ParentID
	}
	return f.WithDefaults()
}

// ToEntity converts f into an entity. Type ids with no entity
// counterpart become modules.
func (f *Frontmatter) ToEntity() *models.Entity {
	e := &models.Entity{
		ID:          f.ID,
		Name:        f.Name,
		Type:        models.EntityType(f.Type),
		Path:        f.Path,
		LineStart:   f.LineStart,
		LineEnd:     f.LineEnd,
		Language:    f.Language,
		State:       f.State,
		Created:     parseTime(f.Created),
		LastUpdated: parseTime(f.LastUpdated),
		Docstring:   f.Docstring,
		Signature:   f.Signature,
		Relations:   f.Relations(),
	}
	if !e.Type.Valid() {
		e.Type = models.TypeModule
		e.Metadata = map[string]interface{}{metaTypeKey: f.Type}
	}
	for k, v := range f.Extra {
		if k == extraParentKey {
			if s, ok := v.(string); ok {
				e.ParentID = s
				continue
			}
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]interface{})
		}
		e.Metadata[k] = v
	}
	return e
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
