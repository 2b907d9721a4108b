// Package registry is the in-memory entity graph: an arena of entities
// keyed by id, advisory locks, and best-effort write-through to source
// files, the durable store and the cache.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/match"

	"github.com/rohankatakam/entitystore/internal/cache"
	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/storage"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

// queryPattern matches every cached query result
const queryPattern = cache.PrefixQuery + "*"

// Options configures a Registry. Every collaborator is optional.
type Options struct {
	// Root resolves relative entity paths to files
	Root string
	// CallerThreshold feeds WouldBreakDependents. Zero means any caller;
	// negative selects models.DefaultCallerThreshold.
	CallerThreshold int
	// LockTTL after which a lock is stale; 0 disables expiry
	LockTTL time.Duration
	// WriteBack enables frontmatter rewrites into source files
	WriteBack bool

	Store  storage.Store
	Cache  cache.Invalidator
	Parser treesitter.Parser
	Logger *logrus.Logger

	// ParseCache memoizes parser output by file mtime
	ParseCache ParseCache
	ParseTTL   time.Duration

	// Now is the clock, replaceable in tests
	Now func() time.Time
}

// Registry is safe for concurrent use. The mutex guards map integrity
// only; cooperating editors coordinate through advisory locks.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*models.Entity
	locks    map[string]Lock

	// fileMu serializes frontmatter rewrites
	fileMu sync.Mutex

	opts   Options
	logger *logrus.Logger
}

// New creates an empty registry
func New(opts Options) *Registry {
	if opts.CallerThreshold < 0 {
		opts.CallerThreshold = models.DefaultCallerThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		entities: make(map[string]*models.Entity),
		locks:    make(map[string]Lock),
		opts:     opts,
		logger:   logger,
	}
}

// CallerThreshold returns the configured breaking-change caller threshold
func (r *Registry) CallerThreshold() int {
	return r.opts.CallerThreshold
}

// WouldBreakDependents applies the configured policy to e
func (r *Registry) WouldBreakDependents(e *models.Entity) bool {
	return e.WouldBreakDependents(r.opts.CallerThreshold)
}

// Load fills the registry from the durable store. Entities already
// present are kept.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.opts.Store == nil {
		return 0, nil
	}
	entities, err := r.opts.Store.ListEntities(ctx)
	if err != nil {
		return 0, errors.DatabaseError(err, "failed to load entities")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	loaded := 0
	for _, e := range entities {
		if _, exists := r.entities[e.ID]; exists {
			continue
		}
		r.entities[e.ID] = e
		loaded++
	}
	r.logger.WithField("entities", loaded).Debug("registry loaded from store")
	return loaded, nil
}

// Register inserts e and returns its id, assigning a UUID when e has
// none. When the entity's file exists without a frontmatter block, one
// is prepended; that write is best-effort.
func (r *Registry) Register(ctx context.Context, e *models.Entity) (string, error) {
	if e == nil {
		return "", errors.ValidationError("entity is nil")
	}
	e = e.Clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.State == "" {
		e.State = models.StateActive
	}
	now := r.opts.Now().UTC()
	if e.Created.IsZero() {
		e.Created = now
	}
	if e.LastUpdated.IsZero() {
		e.LastUpdated = now
	}
	if err := e.Validate(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, errors.SeverityMedium, "invalid entity")
	}

	r.mu.Lock()
	if _, exists := r.entities[e.ID]; exists {
		r.mu.Unlock()
		return "", errors.ValidationErrorf("entity %s is already registered", e.ID)
	}
	r.entities[e.ID] = e
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"entity_id": e.ID,
		"name":      e.Name,
		"type":      e.Type,
	}).Debug("entity registered")

	r.writeBackNew(e)
	r.persist(ctx, e, storage.ActionCreate, "")
	r.invalidate(ctx, queryPattern)
	return e.ID, nil
}

// Get returns a copy of the entity with id
func (r *Registry) Get(id string) (*models.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// MustGet is Get with a NotFound error
func (r *Registry) MustGet(id string) (*models.Entity, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, errors.NotFoundError(id)
	}
	return e, nil
}

// Parent dereferences the parent id of id. A dangling parent id is a
// NotFound error.
func (r *Registry) Parent(id string) (*models.Entity, error) {
	e, err := r.MustGet(id)
	if err != nil {
		return nil, err
	}
	if e.ParentID == "" {
		return nil, errors.NotFoundError("").WithContext("reason", "entity has no parent")
	}
	return r.MustGet(e.ParentID)
}

// Children returns the entities whose parent is id, ordered by position
func (r *Registry) Children(id string) []*models.Entity {
	r.mu.RLock()
	var out []*models.Entity
	for _, e := range r.entities {
		if e.ParentID == id {
			out = append(out, e.Clone())
		}
	}
	r.mu.RUnlock()
	sortEntities(out)
	return out
}

// FilterOptions are conjunctive; zero values match everything except
// that State defaults to active
type FilterOptions struct {
	Type        models.EntityType
	NamePattern string
	PathPattern string
	State       models.State
	// AllStates disables the state predicate
	AllStates bool
}

// Matches reports whether e satisfies every predicate of o
func (o FilterOptions) Matches(e *models.Entity) bool {
	if o.Type != "" && e.Type != o.Type {
		return false
	}
	if !o.AllStates {
		state := o.State
		if state == "" {
			state = models.StateActive
		}
		if e.State != state {
			return false
		}
	}
	if o.NamePattern != "" && !match.Match(e.Name, o.NamePattern) {
		return false
	}
	if o.PathPattern != "" && !match.Match(e.Path, o.PathPattern) {
		return false
	}
	return true
}

// Filter returns copies of the matching entities ordered by path, line
// and id
func (r *Registry) Filter(opts FilterOptions) []*models.Entity {
	r.mu.RLock()
	var out []*models.Entity
	for _, e := range r.entities {
		if opts.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	r.mu.RUnlock()
	sortEntities(out)
	return out
}

// All returns every entity regardless of state
func (r *Registry) All() []*models.Entity {
	return r.Filter(FilterOptions{AllStates: true})
}

// Count returns the number of entities in any state
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Patch lists the fields Update merges. Nil fields are left unchanged.
type Patch struct {
	Name      *string
	Type      *models.EntityType
	Path      *string
	LineStart *int
	LineEnd   *int
	Language  *string
	State     *models.State
	ParentID  *string
	Signature *string
	Docstring *string

	Imports      *[]string
	Exports      *[]string
	Dependencies *[]string
	Callers      *[]string
	Callees      *[]string
	Actors       *[]string

	SemverImpact       *models.SemverImpact
	BreakingChangeRisk *models.RiskLevel
	PublicAPI          *bool

	// Metadata keys are merged; a nil value deletes the key
	Metadata map[string]interface{}
}

func (p Patch) apply(e *models.Entity) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setList := func(dst *[]string, src *[]string) {
		if src != nil {
			*dst = append([]string{}, (*src)...)
		}
	}

	setString(&e.Name, p.Name)
	setString(&e.Path, p.Path)
	setString(&e.Language, p.Language)
	setString(&e.ParentID, p.ParentID)
	setString(&e.Signature, p.Signature)
	setString(&e.Docstring, p.Docstring)
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.State != nil {
		e.State = *p.State
	}
	if p.LineStart != nil {
		e.LineStart = *p.LineStart
	}
	if p.LineEnd != nil {
		e.LineEnd = *p.LineEnd
	}

	setList(&e.Imports, p.Imports)
	setList(&e.Exports, p.Exports)
	setList(&e.Dependencies, p.Dependencies)
	setList(&e.Callers, p.Callers)
	setList(&e.Callees, p.Callees)
	setList(&e.Actors, p.Actors)

	if p.SemverImpact != nil {
		e.SemverImpact = *p.SemverImpact
	}
	if p.BreakingChangeRisk != nil {
		e.BreakingChangeRisk = *p.BreakingChangeRisk
	}
	if p.PublicAPI != nil {
		e.PublicAPI = *p.PublicAPI
	}

	for k, v := range p.Metadata {
		if v == nil {
			delete(e.Metadata, k)
			continue
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]interface{})
		}
		e.Metadata[k] = v
	}
}

func (p Patch) validate() error {
	if p.SemverImpact != nil && !p.SemverImpact.Valid() {
		return errors.ValidationErrorf("invalid semver impact %q", *p.SemverImpact)
	}
	if p.BreakingChangeRisk != nil && !p.BreakingChangeRisk.Valid() {
		return errors.ValidationErrorf("invalid breaking change risk %q", *p.BreakingChangeRisk)
	}
	return nil
}

// Update merges patch into the entity with id, bumps its last-updated
// time and rewrites the entity's own frontmatter block in place when its
// file carries one
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (*models.Entity, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	current, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return nil, errors.NotFoundError(id)
	}
	next := current.Clone()
	patch.apply(next)
	if err := next.Validate(); err != nil {
		r.mu.Unlock()
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, errors.SeverityMedium, "invalid update")
	}
	next.LastUpdated = r.bump(current.LastUpdated)
	r.entities[id] = next
	r.mu.Unlock()

	r.writeBackExisting(next)
	r.persist(ctx, next, storage.ActionUpdate, "")
	r.invalidate(ctx, cache.EntityKey(id))
	r.invalidate(ctx, queryPattern)
	return next.Clone(), nil
}

// Archive soft-deletes the entity with id. Archiving an archived entity
// is a no-op.
func (r *Registry) Archive(ctx context.Context, id string) error {
	r.mu.Lock()
	current, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return errors.NotFoundError(id)
	}
	if current.IsArchived() {
		r.mu.Unlock()
		return nil
	}
	next := current.Clone()
	next.State = models.StateArchived
	next.LastUpdated = r.bump(current.LastUpdated)
	r.entities[id] = next
	r.mu.Unlock()

	r.writeBackExisting(next)
	r.persist(ctx, next, storage.ActionArchive, "")
	r.invalidate(ctx, cache.EntityKey(id))
	r.invalidate(ctx, queryPattern)
	return nil
}

// Delete removes the entity with id and any lock held on it
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.entities[id]; !ok {
		r.mu.Unlock()
		return errors.NotFoundError(id)
	}
	delete(r.entities, id)
	delete(r.locks, id)
	r.mu.Unlock()

	if store := r.opts.Store; store != nil {
		if err := store.DeleteEntity(ctx, id); err != nil {
			r.logger.WithError(err).WithField("entity_id", id).Warn("store delete failed")
		}
	}
	r.logChange(ctx, id, storage.ActionDelete, "")
	r.invalidate(ctx, cache.EntityKey(id))
	r.invalidate(ctx, queryPattern)
	return nil
}

// Link records that caller calls callee on whichever of the two is
// registered. Forward references are kept as-is.
func (r *Registry) Link(ctx context.Context, callerID, calleeID string) error {
	if callerID == "" || calleeID == "" {
		return errors.ValidationError("link requires both ids")
	}

	r.mu.Lock()
	var changed []*models.Entity
	if caller, ok := r.entities[callerID]; ok && !contains(caller.Callees, calleeID) {
		next := caller.Clone()
		next.Callees = append(next.Callees, calleeID)
		next.LastUpdated = r.bump(caller.LastUpdated)
		r.entities[callerID] = next
		changed = append(changed, next)
	}
	if callee, ok := r.entities[calleeID]; ok && !contains(callee.Callers, callerID) {
		next := callee.Clone()
		next.Callers = append(next.Callers, callerID)
		next.LastUpdated = r.bump(callee.LastUpdated)
		r.entities[calleeID] = next
		changed = append(changed, next)
	}
	r.mu.Unlock()

	for _, e := range changed {
		r.persist(ctx, e, storage.ActionUpdate, "link")
		r.invalidate(ctx, cache.EntityKey(e.ID))
	}
	if len(changed) > 0 {
		r.invalidate(ctx, queryPattern)
	}
	return nil
}

// Dependents returns the registered entities that list id as a
// dependency or callee
func (r *Registry) Dependents(id string) []*models.Entity {
	r.mu.RLock()
	var out []*models.Entity
	for _, e := range r.entities {
		if contains(e.Dependencies, id) || contains(e.Callees, id) {
			out = append(out, e.Clone())
		}
	}
	r.mu.RUnlock()
	sortEntities(out)
	return out
}

// Dependencies returns the dependency ids of id. The typed relation and
// the metadata side-map are consulted first; when neither is known the
// entity's own frontmatter block is re-read from its file.
func (r *Registry) Dependencies(id string) ([]string, error) {
	e, err := r.MustGet(id)
	if err != nil {
		return nil, err
	}
	if e.Dependencies != nil {
		return e.Dependencies, nil
	}
	for _, key := range []string{"dependencies", "entity_dependencies"} {
		if deps, ok := metadataList(e.Metadata, key); ok {
			return deps, nil
		}
	}

	deps, ok := r.readFrontmatterDependencies(e)
	if !ok {
		return []string{}, nil
	}

	r.mu.Lock()
	if current, exists := r.entities[id]; exists && current.Dependencies == nil {
		next := current.Clone()
		next.Dependencies = deps
		r.entities[id] = next
	}
	r.mu.Unlock()
	return append([]string{}, deps...), nil
}

// Stats summarizes the registry
type Stats struct {
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	ByState map[string]int `json:"by_state"`
	Files   int            `json:"files"`
	Locks   int            `json:"locks"`
}

// Stats counts entities by type and state
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Total:   len(r.entities),
		ByType:  make(map[string]int),
		ByState: make(map[string]int),
		Locks:   len(r.locks),
	}
	files := make(map[string]bool)
	for _, e := range r.entities {
		s.ByType[string(e.Type)]++
		s.ByState[string(e.State)]++
		files[e.Path] = true
	}
	s.Files = len(files)
	return s
}

// bump returns a last-updated time strictly after prev
func (r *Registry) bump(prev time.Time) time.Time {
	now := r.opts.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// resolve maps an entity path to a file path
func (r *Registry) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.opts.Root, path)
}

// persist writes e to the durable store. Failures are logged and never
// roll back in-memory state.
func (r *Registry) persist(ctx context.Context, e *models.Entity, action, detail string) {
	if store := r.opts.Store; store != nil {
		if err := store.UpsertEntity(ctx, e); err != nil {
			r.logger.WithError(err).WithField("entity_id", e.ID).Warn("store upsert failed")
		}
	}
	r.logChange(ctx, e.ID, action, detail)
}

func (r *Registry) logChange(ctx context.Context, id, action, detail string) {
	store := r.opts.Store
	if store == nil {
		return
	}
	rec := storage.ChangeRecord{EntityID: id, Action: action, Detail: detail, At: r.opts.Now()}
	if err := store.LogChange(ctx, rec); err != nil {
		r.logger.WithError(err).WithField("entity_id", id).Debug("change log write failed")
	}
}

func (r *Registry) invalidate(ctx context.Context, pattern string) {
	if r.opts.Cache == nil {
		return
	}
	if _, err := r.opts.Cache.InvalidatePattern(ctx, pattern); err != nil {
		r.logger.WithError(err).WithField("pattern", pattern).Warn("cache invalidation failed")
	}
}

func sortEntities(entities []*models.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.LineStart != b.LineStart {
			return a.LineStart < b.LineStart
		}
		return a.ID < b.ID
	})
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// metadataList reads a string list stored in the metadata side-map
func metadataList(meta map[string]interface{}, key string) ([]string, bool) {
	raw, ok := meta[key]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return append([]string{}, v...), true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	}
	return nil, false
}

// Files returns the distinct paths of parsed, non-archived entities
func (r *Registry) Files() []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	for _, e := range r.entities {
		if isParsed(e) && !e.IsArchived() && e.Path != "" {
			seen[e.Path] = true
		}
	}
	r.mu.RUnlock()

	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)
	return files
}
