package models

import (
	"sort"
	"time"
)

// Projectable field names, shared by the query engine and the frontmatter schema
const (
	FieldID                   = "entity_id"
	FieldName                 = "entity_name"
	FieldType                 = "entity_type_id"
	FieldPath                 = "entity_path"
	FieldLineStart            = "entity_line_start"
	FieldLineEnd              = "entity_line_end"
	FieldLanguage             = "entity_language"
	FieldState                = "entity_state"
	FieldCreated              = "entity_created"
	FieldLastUpdated          = "entity_last_updated"
	FieldParentID             = "entity_parent_id"
	FieldSignature            = "entity_signature"
	FieldDocstring            = "entity_docstring"
	FieldImports              = "entity_imports"
	FieldExports              = "entity_exports"
	FieldDependencies         = "entity_dependencies"
	FieldCallers              = "entity_callers"
	FieldCallees              = "entity_callees"
	FieldSemverImpact         = "entity_semver_impact"
	FieldBreakingChangeRisk   = "entity_breaking_change_risk"
	FieldPublicAPI            = "entity_public_api"
	FieldActors               = "entity_actors"
	FieldFrontmatterSignature = "entity_frontmatter_signature"
)

// DefaultFields is the projection used when a caller names none
var DefaultFields = []string{FieldID, FieldName, FieldType, FieldPath}

var fieldGetters = map[string]func(e *Entity) interface{}{
	FieldID:                   func(e *Entity) interface{} { return e.ID },
	FieldName:                 func(e *Entity) interface{} { return e.Name },
	FieldType:                 func(e *Entity) interface{} { return string(e.Type) },
	FieldPath:                 func(e *Entity) interface{} { return e.Path },
	FieldLineStart:            func(e *Entity) interface{} { return optionalInt(e.LineStart) },
	FieldLineEnd:              func(e *Entity) interface{} { return optionalInt(e.LineEnd) },
	FieldLanguage:             func(e *Entity) interface{} { return e.Language },
	FieldState:                func(e *Entity) interface{} { return string(e.State) },
	FieldCreated:              func(e *Entity) interface{} { return formatTime(e.Created) },
	FieldLastUpdated:          func(e *Entity) interface{} { return formatTime(e.LastUpdated) },
	FieldParentID:             func(e *Entity) interface{} { return optionalString(e.ParentID) },
	FieldSignature:            func(e *Entity) interface{} { return optionalString(e.Signature) },
	FieldDocstring:            func(e *Entity) interface{} { return optionalString(e.Docstring) },
	FieldImports:              func(e *Entity) interface{} { return listOrEmpty(e.Imports) },
	FieldExports:              func(e *Entity) interface{} { return listOrEmpty(e.Exports) },
	FieldDependencies:         func(e *Entity) interface{} { return listOrEmpty(e.Dependencies) },
	FieldCallers:              func(e *Entity) interface{} { return listOrEmpty(e.Callers) },
	FieldCallees:              func(e *Entity) interface{} { return listOrEmpty(e.Callees) },
	FieldSemverImpact:         func(e *Entity) interface{} { return string(e.SemverImpact) },
	FieldBreakingChangeRisk:   func(e *Entity) interface{} { return string(e.BreakingChangeRisk) },
	FieldPublicAPI:            func(e *Entity) interface{} { return e.PublicAPI },
	FieldActors:               func(e *Entity) interface{} { return listOrEmpty(e.Actors) },
	FieldFrontmatterSignature: func(e *Entity) interface{} { return optionalString(e.FrontmatterSignature) },
}

// Field returns the value of a projectable field. The second result is
// false for unknown field names.
func (e *Entity) Field(name string) (interface{}, bool) {
	get, ok := fieldGetters[name]
	if !ok {
		return nil, false
	}
	return get(e), true
}

// IsField reports whether name is a projectable field
func IsField(name string) bool {
	_, ok := fieldGetters[name]
	return ok
}

// FieldNames returns every projectable field name, sorted
func FieldNames() []string {
	names := make([]string, 0, len(fieldGetters))
	for name := range fieldGetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSortable reports whether a field holds a scalar usable as a sort key
func IsSortable(name string) bool {
	switch name {
	case FieldImports, FieldExports, FieldDependencies, FieldCallers, FieldCallees, FieldActors:
		return false
	}
	return IsField(name)
}

func optionalInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func optionalString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func listOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
