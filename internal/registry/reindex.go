package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/cache"
	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/frontmatter"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/storage"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

// ParseCache stores parser output keyed by path and modification time
type ParseCache interface {
	GetParse(ctx context.Context, path string, mtime time.Time) ([]*models.Entity, bool)
	SetParse(ctx context.Context, path string, mtime time.Time, entities []*models.Entity, ttl time.Duration) error
}

// FileResult summarizes the reindex of one file
type FileResult struct {
	Path        string   `json:"path"`
	Added       []string `json:"added,omitempty"`
	Updated     []string `json:"updated,omitempty"`
	Archived    []string `json:"archived,omitempty"`
	Unchanged   int      `json:"unchanged"`
	Unsupported bool     `json:"unsupported,omitempty"`
}

// Changed reports whether the reindex touched any entity
func (f *FileResult) Changed() bool {
	return len(f.Added)+len(f.Updated)+len(f.Archived) > 0
}

// RelPath maps a file path to the root-relative, slash-separated form
// entities are stored under
func (r *Registry) RelPath(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	if root, err := filepath.Abs(r.opts.Root); err == nil {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// ReindexFile re-parses one file and reconciles its entities with the
// registry
func (r *Registry) ReindexFile(ctx context.Context, path string) (*FileResult, error) {
	rel := r.RelPath(path)
	full := r.resolve(rel)

	info, err := os.Stat(full)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "failed to stat %s", rel)
	}
	source, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "failed to read %s", rel)
	}
	return r.IndexSource(ctx, rel, source, info.ModTime())
}

// IndexSource reconciles the registry with the given contents of rel.
// Entities keep their ids across reindexes: a parsed entity reuses the id
// of the existing entity with the same parent chain, type and name. A
// frontmatter block pins the id of the entity it describes. Parsed
// entities that vanished from the file are archived; explicitly
// registered ones are left alone.
func (r *Registry) IndexSource(ctx context.Context, rel string, source []byte, mtime time.Time) (*FileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.opts.Parser == nil {
		return nil, errors.InternalError("registry has no parser")
	}

	parsed, err := r.parse(ctx, rel, source, mtime)
	if err != nil {
		if stderrors.Is(err, treesitter.ErrUnsupportedLanguage) {
			return &FileResult{Path: rel, Unsupported: true}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.ParseError(err, rel)
	}

	pinned := ""
	lang := treesitter.FrontmatterLanguage(treesitter.DetectLanguage(rel))
	if f, ok := frontmatter.Parse(string(source), lang); ok {
		parsed, pinned = mergeFrontmatter(parsed, f, rel, string(source))
	}
	return r.apply(ctx, rel, parsed, pinned), nil
}

func (r *Registry) parse(ctx context.Context, rel string, source []byte, mtime time.Time) ([]*models.Entity, error) {
	pc := r.opts.ParseCache
	if pc != nil && !mtime.IsZero() {
		if cached, ok := pc.GetParse(ctx, rel, mtime); ok {
			return cached, nil
		}
	}
	parsed, err := r.opts.Parser.Parse(ctx, rel, source)
	if err != nil {
		return nil, err
	}
	if pc != nil && !mtime.IsZero() {
		if err := pc.SetParse(ctx, rel, mtime, parsed, r.opts.ParseTTL); err != nil {
			r.logger.WithError(err).WithField("path", rel).Debug("parse cache write failed")
		}
	}
	return parsed, nil
}

// mergeFrontmatter folds the file's frontmatter block into the parsed
// entity it describes, or appends it as an entity of its own. It returns
// the id the block pins.
func mergeFrontmatter(parsed []*models.Entity, f *frontmatter.Frontmatter, rel, source string) ([]*models.Entity, string) {
	fe := f.ToEntity()
	if fe.Path == "" {
		fe.Path = rel
	}

	target := -1
	for i, e := range parsed {
		if e.Name == fe.Name && e.Type == fe.Type {
			target = i
			break
		}
	}
	if target < 0 {
		for i, e := range parsed {
			if e.ParentID == "" && (e.Type == models.TypeDocument || e.Type == models.TypeModule) {
				target = i
				break
			}
		}
	}

	if target < 0 {
		fe.Path = rel
		fe.FrontmatterSignature = models.ComputeSignature(rel, fe.Name, fe.Type, source)
		return append(parsed, fe), fe.ID
	}

	t := parsed[target]
	old := t.ID
	t.ID = fe.ID
	t.Name = fe.Name
	t.State = fe.State
	t.Relations = fe.Relations
	if !fe.Created.IsZero() {
		t.Created = fe.Created
	}
	if t.Docstring == "" {
		t.Docstring = fe.Docstring
	}
	if t.Signature == "" {
		t.Signature = fe.Signature
	}
	if fe.ParentID != "" {
		t.ParentID = fe.ParentID
	}
	for k, v := range fe.Metadata {
		if t.Metadata == nil {
			t.Metadata = make(map[string]interface{})
		}
		t.Metadata[k] = v
	}
	for _, e := range parsed {
		if e.ParentID == old {
			e.ParentID = t.ID
		}
	}
	return parsed, t.ID
}

// apply reconciles the entities of rel with parsed under one lock and
// persists the difference afterwards
func (r *Registry) apply(ctx context.Context, rel string, parsed []*models.Entity, pinned string) *FileResult {
	res := &FileResult{Path: rel}
	now := r.opts.Now().UTC()

	r.mu.Lock()
	var existing []*models.Entity
	for _, e := range r.entities {
		if e.Path == rel {
			existing = append(existing, e)
		}
	}

	byKey := make(map[string]*models.Entity)
	for id, key := range stableKeys(existing) {
		e := r.entities[id]
		if prev, ok := byKey[key]; ok && preferred(prev, e) {
			continue
		}
		byKey[key] = e
	}

	remap := make(map[string]string)
	for id, key := range stableKeys(parsed) {
		if id == pinned {
			continue
		}
		if e, ok := byKey[key]; ok && e.ID != pinned {
			remap[id] = e.ID
		}
	}
	for _, p := range parsed {
		if id, ok := remap[p.ID]; ok {
			p.ID = id
		}
		if id, ok := remap[p.ParentID]; ok {
			p.ParentID = id
		}
	}

	seen := make(map[string]bool, len(parsed))
	var changed []*models.Entity
	for _, p := range parsed {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		p.Path = rel

		current, ok := r.entities[p.ID]
		if !ok {
			if p.State == "" {
				p.State = models.StateActive
			}
			if p.Created.IsZero() {
				p.Created = now
			}
			if p.LastUpdated.IsZero() {
				p.LastUpdated = now
			}
			r.entities[p.ID] = p
			res.Added = append(res.Added, p.ID)
			changed = append(changed, p)
			continue
		}

		next := mergeParsed(current, p, p.ID == pinned)
		if sameContent(current, next) {
			res.Unchanged++
			continue
		}
		next.LastUpdated = r.bump(current.LastUpdated)
		r.entities[p.ID] = next
		res.Updated = append(res.Updated, p.ID)
		changed = append(changed, next)
	}

	var archived []*models.Entity
	for _, e := range existing {
		if seen[e.ID] || !isParsed(e) || e.IsArchived() {
			continue
		}
		next := e.Clone()
		next.State = models.StateArchived
		next.LastUpdated = r.bump(e.LastUpdated)
		r.entities[e.ID] = next
		res.Archived = append(res.Archived, e.ID)
		archived = append(archived, next)
	}
	r.mu.Unlock()

	sort.Strings(res.Added)
	sort.Strings(res.Updated)
	sort.Strings(res.Archived)

	r.persistBatch(ctx, changed, archived, res)
	r.logger.WithFields(logrus.Fields{
		"path":      rel,
		"added":     len(res.Added),
		"updated":   len(res.Updated),
		"archived":  len(res.Archived),
		"unchanged": res.Unchanged,
	}).Debug("file reindexed")
	return res
}

func (r *Registry) persistBatch(ctx context.Context, changed, archived []*models.Entity, res *FileResult) {
	all := append(append([]*models.Entity{}, changed...), archived...)
	if len(all) == 0 {
		return
	}
	if store := r.opts.Store; store != nil {
		if err := store.UpsertEntities(ctx, all); err != nil {
			r.logger.WithError(err).WithField("path", res.Path).Warn("store batch upsert failed")
		}
	}
	for _, id := range res.Added {
		r.logChange(ctx, id, storage.ActionCreate, "reindex")
	}
	for _, id := range res.Updated {
		r.logChange(ctx, id, storage.ActionUpdate, "reindex")
	}
	for _, id := range res.Archived {
		r.logChange(ctx, id, storage.ActionArchive, "vanished from "+res.Path)
	}
	for _, e := range all {
		r.invalidate(ctx, cache.EntityKey(e.ID))
	}
	r.invalidate(ctx, queryPattern)
}

// RemoveFile archives every entity of a deleted file and returns their ids
func (r *Registry) RemoveFile(ctx context.Context, path string) []string {
	rel := r.RelPath(path)

	r.mu.Lock()
	var archived []*models.Entity
	for id, e := range r.entities {
		if e.Path != rel || e.IsArchived() {
			continue
		}
		next := e.Clone()
		next.State = models.StateArchived
		next.LastUpdated = r.bump(e.LastUpdated)
		r.entities[id] = next
		archived = append(archived, next)
	}
	r.mu.Unlock()

	res := &FileResult{Path: rel}
	for _, e := range archived {
		res.Archived = append(res.Archived, e.ID)
	}
	sort.Strings(res.Archived)
	r.persistBatch(ctx, nil, archived, res)
	return res.Archived
}

// HandleFileChange reacts to a change notification for path: the file is
// reindexed, or its entities archived when it no longer exists. Cache
// entries mentioning the path are invalidated either way.
func (r *Registry) HandleFileChange(ctx context.Context, path string) (*FileResult, error) {
	rel := r.RelPath(path)

	var (
		res *FileResult
		err error
	)
	if _, statErr := os.Stat(r.resolve(rel)); os.IsNotExist(statErr) {
		res = &FileResult{Path: rel, Archived: r.RemoveFile(ctx, rel)}
	} else {
		res, err = r.ReindexFile(ctx, rel)
	}

	r.invalidate(ctx, "*"+rel+"*")
	return res, err
}

// stableKeys derives an identity key per entity from its parent chain,
// type and name. Repeated keys get an ordinal in line order.
func stableKeys(entities []*models.Entity) map[string]string {
	sorted := append([]*models.Entity{}, entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].LineStart != sorted[j].LineStart {
			return sorted[i].LineStart < sorted[j].LineStart
		}
		return sorted[i].LineEnd > sorted[j].LineEnd
	})

	keys := make(map[string]string, len(sorted))
	counts := make(map[string]int)
	for _, e := range sorted {
		key := keys[e.ParentID] + "/" + string(e.Type) + ":" + e.Name
		n := counts[key]
		counts[key]++
		if n > 0 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		keys[e.ID] = key
	}
	return keys
}

// preferred reports whether a should win over b for the same key
func preferred(a, b *models.Entity) bool {
	if a.IsArchived() != b.IsArchived() {
		return !a.IsArchived()
	}
	return a.ID < b.ID
}

// isParsed reports whether e came from a parse pass. Explicitly
// registered entities carry no signature.
func isParsed(e *models.Entity) bool {
	return e.FrontmatterSignature != ""
}

// mergeParsed combines a fresh parse of an entity with its registered
// state. Relations and metadata survive unless a frontmatter block
// supplied them; an archived entity that reappears becomes active.
func mergeParsed(current, parsed *models.Entity, fromFrontmatter bool) *models.Entity {
	next := parsed.Clone()
	next.Created = current.Created
	next.LastUpdated = current.LastUpdated

	if fromFrontmatter {
		if next.State == "" {
			next.State = current.State
		}
	} else {
		next.Relations = current.Clone().Relations
		next.State = current.State
		if next.State == models.StateArchived || next.State == "" {
			next.State = models.StateActive
		}
	}

	if len(current.Metadata) > 0 {
		merged := make(map[string]interface{}, len(current.Metadata)+len(parsed.Metadata))
		for k, v := range current.Metadata {
			merged[k] = v
		}
		for k, v := range parsed.Metadata {
			merged[k] = v
		}
		next.Metadata = merged
	}
	return next
}

func sameContent(a, b *models.Entity) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.Path == b.Path &&
		a.ParentID == b.ParentID &&
		a.LineStart == b.LineStart &&
		a.LineEnd == b.LineEnd &&
		a.Language == b.Language &&
		a.State == b.State &&
		a.Signature == b.Signature &&
		a.Docstring == b.Docstring &&
		a.FrontmatterSignature == b.FrontmatterSignature &&
		reflect.DeepEqual(a.Relations, b.Relations) &&
		reflect.DeepEqual(a.Metadata, b.Metadata)
}
