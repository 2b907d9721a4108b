package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/query"
	"github.com/rohankatakam/entitystore/internal/registry"
)

// defaultHolder names lock holders for sessions without an id
const defaultHolder = "mcp"

// SearchInput is the argument of the search tool
type SearchInput struct {
	Text   string   `json:"text" jsonschema:"words to rank entities by"`
	Fields []string `json:"fields,omitempty" jsonschema:"fields to project; defaults to id, name, type, path"`
	Limit  int      `json:"limit,omitempty" jsonschema:"maximum number of hits"`
}

// ShowInput is the argument of the show tool
type ShowInput struct {
	ID       string   `json:"id" jsonschema:"entity id"`
	Fields   []string `json:"fields,omitempty" jsonschema:"fields to project"`
	Children bool     `json:"children,omitempty" jsonschema:"include the descendant hierarchy"`
	Depth    int      `json:"depth,omitempty" jsonschema:"hierarchy depth limit; 0 is unbounded"`
}

// ShowOutput is an entity with its optional hierarchy
type ShowOutput struct {
	Entity    query.Record   `json:"entity"`
	Hierarchy []query.Record `json:"hierarchy,omitempty"`
}

// LockInput is the argument of the lock and unlock tools
type LockInput struct {
	ID     string `json:"id" jsonschema:"entity id"`
	Holder string `json:"holder,omitempty" jsonschema:"who holds the lock; defaults to the session"`
}

// LockOutput reports the lock state after the call
type LockOutput struct {
	ID       string         `json:"id"`
	Acquired bool           `json:"acquired,omitempty"`
	Released bool           `json:"released,omitempty"`
	Lock     *registry.Lock `json:"lock,omitempty"`
}

// ImpactInput is the argument of the impact tool
type ImpactInput struct {
	IDs   []string `json:"ids,omitempty" jsonschema:"changed entity ids"`
	Files []string `json:"files,omitempty" jsonschema:"changed files; every active entity in them is analyzed"`
}

// ReindexInput is the argument of the reindex tool
type ReindexInput struct {
	Path string `json:"path,omitempty" jsonschema:"file to reindex; empty reindexes the whole tree"`
}

// UpdateInput is the argument of the update tool. Omitted fields are left
// unchanged; an empty list clears one.
type UpdateInput struct {
	ID                 string               `json:"id" jsonschema:"entity id"`
	Holder             string               `json:"holder,omitempty" jsonschema:"lock holder making the edit; defaults to the session"`
	Name               *string              `json:"name,omitempty"`
	Signature          *string              `json:"signature,omitempty"`
	Docstring          *string              `json:"docstring,omitempty"`
	State              *models.State        `json:"state,omitempty" jsonschema:"active, deprecated or archived"`
	SemverImpact       *models.SemverImpact `json:"semver_impact,omitempty" jsonschema:"major, minor or patch"`
	BreakingChangeRisk *models.RiskLevel    `json:"breaking_change_risk,omitempty" jsonschema:"low, medium or high"`
	PublicAPI          *bool                `json:"public_api,omitempty"`
	Exports            []string             `json:"exports,omitempty"`
	Dependencies       []string             `json:"dependencies,omitempty"`
	Actors             []string             `json:"actors,omitempty"`
	Metadata           map[string]any       `json:"metadata,omitempty" jsonschema:"keys to merge; null deletes a key"`
}

func (in UpdateInput) patch() registry.Patch {
	p := registry.Patch{
		Name:               in.Name,
		Signature:          in.Signature,
		Docstring:          in.Docstring,
		State:              in.State,
		SemverImpact:       in.SemverImpact,
		BreakingChangeRisk: in.BreakingChangeRisk,
		PublicAPI:          in.PublicAPI,
		Metadata:           in.Metadata,
	}
	if in.Exports != nil {
		p.Exports = &in.Exports
	}
	if in.Dependencies != nil {
		p.Dependencies = &in.Dependencies
	}
	if in.Actors != nil {
		p.Actors = &in.Actors
	}
	return p
}

// ArchiveInput is the argument of the archive tool
type ArchiveInput struct {
	ID     string `json:"id" jsonschema:"entity id"`
	Holder string `json:"holder,omitempty" jsonschema:"lock holder making the edit; defaults to the session"`
}

// LinkInput is the argument of the link tool
type LinkInput struct {
	Caller string `json:"caller" jsonschema:"id of the calling entity"`
	Callee string `json:"callee" jsonschema:"id of the called entity"`
	Holder string `json:"holder,omitempty" jsonschema:"lock holder making the edit; defaults to the session"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query",
		Description: "Filter, sort, paginate and project registry entities",
	}, s.query)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Rank entities by how many search words their name, path and docstring contain",
	}, s.search)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "show",
		Description: "Show one entity, optionally with its descendants",
	}, s.show)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "lock",
		Description: "Take the advisory edit lock on an entity without waiting",
	}, s.lock)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "unlock",
		Description: "Release the advisory edit lock on an entity",
	}, s.unlock)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update",
		Description: "Change entity fields. Fails when another holder has the entity locked",
	}, s.update)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "archive",
		Description: "Archive an entity. Fails when another holder has the entity locked",
	}, s.archive)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "link",
		Description: "Record that one entity calls another",
	}, s.link)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "impact",
		Description: "List transitive callers a change to the given entities or files would break",
	}, s.impact)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reindex",
		Description: "Re-parse one file, or the whole tree, into the registry",
	}, s.reindex)
}

func (s *Server) query(ctx context.Context, _ *mcp.CallToolRequest, in query.Options) (*mcp.CallToolResult, any, error) {
	res, err := s.deps.Engine.Query(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) search(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	res, err := s.deps.Engine.Search(ctx, in.Text, in.Fields, in.Limit)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) show(_ context.Context, _ *mcp.CallToolRequest, in ShowInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.deps.Engine.Get(in.ID, in.Fields)
	if err != nil {
		return nil, nil, err
	}
	out := ShowOutput{Entity: rec}
	if in.Children {
		if out.Hierarchy, err = s.deps.Engine.Hierarchy(in.ID, in.Depth, in.Fields); err != nil {
			return nil, nil, err
		}
	}
	return nil, out, nil
}

func (s *Server) lock(_ context.Context, req *mcp.CallToolRequest, in LockInput) (*mcp.CallToolResult, any, error) {
	holder := holderFor(req, in.Holder)
	if err := s.deps.Registry.TryLock(in.ID, holder); err != nil {
		return nil, nil, err
	}
	lock, _ := s.deps.Registry.LockInfo(in.ID)
	s.logger.WithField("entity_id", in.ID).WithField("holder", holder).Debug("lock acquired over mcp")
	return nil, LockOutput{ID: in.ID, Acquired: true, Lock: &lock}, nil
}

// unlock releases any lock unless a holder is named that does not own it
func (s *Server) unlock(_ context.Context, _ *mcp.CallToolRequest, in LockInput) (*mcp.CallToolResult, any, error) {
	if current, held := s.deps.Registry.LockInfo(in.ID); held && in.Holder != "" && current.Holder != in.Holder {
		return nil, nil, fmt.Errorf("lock on %s is held by %s", in.ID, current.Holder)
	}
	return nil, LockOutput{ID: in.ID, Released: s.deps.Registry.UnlockEntity(in.ID)}, nil
}

func (s *Server) update(ctx context.Context, req *mcp.CallToolRequest, in UpdateInput) (*mcp.CallToolResult, any, error) {
	holder := holderFor(req, in.Holder)
	if err := s.deps.Registry.CheckHolder(in.ID, holder); err != nil {
		return nil, nil, err
	}
	e, err := s.deps.Registry.Update(ctx, in.ID, in.patch())
	if err != nil {
		return nil, nil, err
	}
	s.logger.WithField("entity_id", in.ID).WithField("holder", holder).Debug("entity updated over mcp")
	return nil, e, nil
}

func (s *Server) archive(ctx context.Context, req *mcp.CallToolRequest, in ArchiveInput) (*mcp.CallToolResult, any, error) {
	if err := s.deps.Registry.CheckHolder(in.ID, holderFor(req, in.Holder)); err != nil {
		return nil, nil, err
	}
	if err := s.deps.Registry.Archive(ctx, in.ID); err != nil {
		return nil, nil, err
	}
	e, _ := s.deps.Registry.Get(in.ID)
	return nil, e, nil
}

func (s *Server) link(ctx context.Context, req *mcp.CallToolRequest, in LinkInput) (*mcp.CallToolResult, any, error) {
	holder := holderFor(req, in.Holder)
	for _, id := range []string{in.Caller, in.Callee} {
		if err := s.deps.Registry.CheckHolder(id, holder); err != nil {
			return nil, nil, err
		}
	}
	if err := s.deps.Registry.Link(ctx, in.Caller, in.Callee); err != nil {
		return nil, nil, err
	}
	return nil, LinkInput{Caller: in.Caller, Callee: in.Callee, Holder: holder}, nil
}

func (s *Server) impact(_ context.Context, _ *mcp.CallToolRequest, in ImpactInput) (*mcp.CallToolResult, any, error) {
	if len(in.IDs) == 0 && len(in.Files) == 0 {
		return nil, nil, fmt.Errorf("ids or files is required")
	}
	if len(in.Files) > 0 {
		report := s.deps.Analyzer.AnalyzeFiles(in.Files)
		if len(in.IDs) > 0 {
			extra := s.deps.Analyzer.Analyze(in.IDs)
			report.Entries = append(report.Entries, extra.Entries...)
			report.Safe = append(report.Safe, extra.Safe...)
			report.Missing = append(report.Missing, extra.Missing...)
		}
		return nil, report, nil
	}
	return nil, s.deps.Analyzer.Analyze(in.IDs), nil
}

func (s *Server) reindex(ctx context.Context, _ *mcp.CallToolRequest, in ReindexInput) (*mcp.CallToolResult, any, error) {
	if in.Path != "" {
		res, err := s.deps.Registry.HandleFileChange(ctx, in.Path)
		if err != nil {
			return nil, nil, err
		}
		return nil, res, nil
	}
	if s.deps.Indexer == nil {
		return nil, nil, fmt.Errorf("whole-tree reindex is not available; pass a path")
	}
	res, err := s.deps.Indexer.Run(ctx, s.deps.Root)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func holderFor(req *mcp.CallToolRequest, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if req != nil && req.Session != nil {
		if id := req.Session.ID(); id != "" {
			return id
		}
	}
	return defaultHolder
}
