package registry

import (
	stderrors "errors"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/frontmatter"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

// fileLanguage picks the frontmatter language tag for e's file
func fileLanguage(e *models.Entity) string {
	if lang := treesitter.FrontmatterLanguage(treesitter.DetectLanguage(e.Path)); lang != "" {
		return lang
	}
	if e.Language != "" {
		return e.Language
	}
	return "markdown"
}

// blockFor builds the frontmatter of e in the encoding of its file
func blockFor(e *models.Entity, language string) *frontmatter.Frontmatter {
	c := e.Clone()
	c.Language = language
	return frontmatter.FromEntity(c)
}

// writeBackNew prepends a block for a newly registered entity when its
// file exists and carries no block yet
func (r *Registry) writeBackNew(e *models.Entity) {
	if !r.opts.WriteBack || e.Path == "" {
		return
	}
	if _, err := r.prependBlock(e); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		r.reportWriteBack(err, e.ID)
	}
}

// WriteFrontmatter prepends a block describing id to its file, whether or
// not write-back is enabled. It returns false when the file already
// carries a block.
func (r *Registry) WriteFrontmatter(id string) (bool, error) {
	e, err := r.MustGet(id)
	if err != nil {
		return false, err
	}
	if e.Path == "" {
		return false, errors.ValidationErrorf("entity %s has no path", id)
	}
	return r.prependBlock(e)
}

func (r *Registry) prependBlock(e *models.Entity) (bool, error) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	path := r.resolve(e.Path)
	source, err := os.ReadFile(path)
	if err != nil {
		return false, errors.WriteBackError(err, path)
	}
	lang := fileLanguage(e)
	if frontmatter.Has(string(source), lang) {
		return false, nil
	}
	updated, err := frontmatter.Prepend(string(source), blockFor(e, lang))
	if err != nil {
		return false, errors.WriteBackError(err, path)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(updated), mode); err != nil {
		return false, errors.WriteBackError(err, path)
	}
	r.logger.WithFields(logrus.Fields{"path": path, "entity_id": e.ID}).Debug("frontmatter written")
	return true, nil
}

// writeBackExisting rewrites e's block in place when its file carries a
// block that belongs to e. Blocks of other entities are left alone.
func (r *Registry) writeBackExisting(e *models.Entity) {
	if !r.opts.WriteBack || e.Path == "" {
		return
	}
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	path := r.resolve(e.Path)
	source, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.reportWriteBack(errors.WriteBackError(err, path), e.ID)
		}
		return
	}
	lang := fileLanguage(e)
	current, ok := frontmatter.Parse(string(source), lang)
	if !ok || current.ID != e.ID {
		return
	}
	updated, err := frontmatter.Replace(string(source), lang, blockFor(e, lang))
	if err != nil {
		if !stderrors.Is(err, frontmatter.ErrNoFrontmatter) {
			r.reportWriteBack(errors.WriteBackError(err, path), e.ID)
		}
		return
	}
	r.writeFile(path, updated, e.ID)
}

func (r *Registry) writeFile(path, content, id string) {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		r.reportWriteBack(errors.WriteBackError(err, path), id)
		return
	}
	r.logger.WithFields(logrus.Fields{"path": path, "entity_id": id}).Debug("frontmatter written")
}

// reportWriteBack logs a failed rewrite. In-memory state is never rolled
// back.
func (r *Registry) reportWriteBack(err error, id string) {
	r.logger.WithError(err).WithField("entity_id", id).Warn("frontmatter write-back failed")
}

// readFrontmatterDependencies re-reads e's own block from disk
func (r *Registry) readFrontmatterDependencies(e *models.Entity) ([]string, bool) {
	if e.Path == "" {
		return nil, false
	}
	source, err := os.ReadFile(r.resolve(e.Path))
	if err != nil {
		return nil, false
	}
	f, ok := frontmatter.Parse(string(source), fileLanguage(e))
	if !ok || f.ID != e.ID || f.Dependencies == nil {
		return nil, false
	}
	return f.Dependencies, true
}
