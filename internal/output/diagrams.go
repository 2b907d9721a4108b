package output

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rohankatakam/entitystore/internal/models"
)

const (
	// maxExports caps the exports shown next to a file in a tree
	maxExports = 3
	// maxBranches caps each list of a dependency graph
	maxBranches = 5
	// DefaultSequenceDepth is how many calls deep a sequence diagram follows
	DefaultSequenceDepth = 3
)

// Tree node kinds besides entity types
const (
	KindDir  = "dir"
	KindFile = "file"
)

// TreeNode is one directory, file or entity of an architecture tree.
// Entity nodes carry the entity type as their kind.
type TreeNode struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	ID       string      `json:"id,omitempty"`
	Exports  []string    `json:"exports,omitempty"`
	HighRisk bool        `json:"high_risk,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree groups entities by path into a directory tree. Entities sit
// under their file in line order; a file collects the exports of its
// entities and is high risk when any of them is.
func BuildTree(entities []*models.Entity) *TreeNode {
	root := &TreeNode{Kind: KindDir}
	byPath := make(map[string][]*models.Entity)
	for _, e := range entities {
		if e.Path != "" {
			byPath[e.Path] = append(byPath[e.Path], e)
		}
	}

	for path, ents := range byPath {
		node := root
		parts := strings.Split(path, "/")
		for i, part := range parts {
			kind := KindDir
			if i == len(parts)-1 {
				kind = KindFile
			}
			node = node.child(part, kind)
		}

		sort.SliceStable(ents, func(i, j int) bool {
			if ents[i].LineStart != ents[j].LineStart {
				return ents[i].LineStart < ents[j].LineStart
			}
			return ents[i].Name < ents[j].Name
		})
		for _, e := range ents {
			for _, x := range e.Exports {
				if !slices.Contains(node.Exports, x) {
					node.Exports = append(node.Exports, x)
				}
			}
			if e.BreakingChangeRisk == models.RiskLevelHigh {
				node.HighRisk = true
			}
			node.Children = append(node.Children, &TreeNode{Name: e.Name, Kind: string(e.Type), ID: e.ID})
		}
	}
	root.sortDirs()
	return root
}

func (n *TreeNode) child(name, kind string) *TreeNode {
	for _, c := range n.Children {
		if c.Name == name && c.Kind == kind {
			return c
		}
	}
	c := &TreeNode{Name: name, Kind: kind}
	n.Children = append(n.Children, c)
	return c
}

// sortDirs orders directory entries by name and leaves file contents in
// line order
func (n *TreeNode) sortDirs() {
	if n.Kind != KindDir {
		return
	}
	sort.Slice(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Kind < b.Kind
	})
	for _, c := range n.Children {
		c.sortDirs()
	}
}

// Tree writes an architecture tree of entities
func (p *Printer) Tree(entities []*models.Entity) error {
	root := BuildTree(entities)
	if p.JSON() {
		return p.WriteJSON(root.Children)
	}
	if len(root.Children) == 0 {
		fmt.Fprintln(p.w, "No entities to show")
		return nil
	}
	p.treeLines(root.Children, "")
	return nil
}

func (p *Printer) treeLines(nodes []*TreeNode, indent string) {
	for i, n := range nodes {
		branch, next := "├── ", "│   "
		if i == len(nodes)-1 {
			branch, next = "└── ", "    "
		}
		fmt.Fprint(p.w, indent+branch)
		switch n.Kind {
		case KindDir:
			p.bold().Fprintln(p.w, n.Name+"/")
		case KindFile:
			fmt.Fprint(p.w, n.Name)
			if len(n.Exports) > 0 {
				fmt.Fprint(p.w, " "+exportList(n.Exports))
			}
			if n.HighRisk {
				p.red().Fprint(p.w, " ⚠️")
			}
			fmt.Fprintln(p.w)
		default:
			p.gray().Fprintf(p.w, "[%s] ", n.Kind)
			fmt.Fprintln(p.w, n.Name)
		}
		p.treeLines(n.Children, indent+next)
	}
}

func exportList(exports []string) string {
	if len(exports) > maxExports {
		return "[" + strings.Join(exports[:maxExports], ", ") + ", ...]"
	}
	return "[" + strings.Join(exports, ", ") + "]"
}

// RiskItem is one entry of a risk summary
type RiskItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Dependents int    `json:"dependents"`
}

// DependencyGraph is the neighbourhood of Target: what it depends on,
// what depends on it, and how many entities a breaking change would reach
// transitively. Without a Target it is a risk summary instead.
type DependencyGraph struct {
	Target     *models.Entity `json:"target,omitempty"`
	Upstream   []string       `json:"upstream,omitempty"`
	Downstream []string       `json:"downstream,omitempty"`
	Breaking   bool           `json:"breaking"`
	Impacted   int            `json:"impacted"`
	HighRisk   []RiskItem     `json:"high_risk,omitempty"`
	MediumRisk []RiskItem     `json:"medium_risk,omitempty"`
}

// RiskSummary groups high and medium risk entities, most called first
func RiskSummary(entities []*models.Entity) *DependencyGraph {
	g := &DependencyGraph{}
	for _, e := range entities {
		item := RiskItem{ID: e.ID, Name: e.Name, Dependents: len(e.Callers)}
		switch e.BreakingChangeRisk {
		case models.RiskLevelHigh:
			g.HighRisk = append(g.HighRisk, item)
		case models.RiskLevelMedium:
			g.MediumRisk = append(g.MediumRisk, item)
		}
	}
	for _, items := range [][]RiskItem{g.HighRisk, g.MediumRisk} {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Dependents > items[j].Dependents
		})
	}
	return g
}

// DependencyGraph writes a dependency graph or risk summary
func (p *Printer) DependencyGraph(g *DependencyGraph) error {
	if p.JSON() {
		return p.WriteJSON(g)
	}
	if g.Target == nil {
		p.riskSummary(g)
		return nil
	}

	w := p.w
	p.Header("Dependency Graph: " + g.Target.Name)
	fmt.Fprintln(w, "UPSTREAM (dependencies):")
	p.branches(g.Upstream)
	fmt.Fprintln(w)

	rule := strings.Repeat("═", 50)
	bar := strings.Repeat("─", utf8.RuneCountInString(g.Target.Name)+2)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "         ┌%s┐\n", bar)
	fmt.Fprintf(w, "         │ %s │", g.Target.Name)
	if g.Breaking {
		p.red().Fprint(w, " ⚠️ HIGH RISK")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "         └%s┘\n", bar)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "DOWNSTREAM (dependents):")
	p.branches(g.Downstream)
	if g.Impacted > 0 {
		p.gray().Fprintf(w, "\nTransitive dependents: %d\n", g.Impacted)
	}
	return nil
}

func (p *Printer) branches(items []string) {
	if len(items) == 0 {
		p.gray().Fprintln(p.w, "└── (none)")
		return
	}
	for i, item := range items {
		if i == maxBranches {
			fmt.Fprintf(p.w, "└── ... and %d more\n", len(items)-maxBranches)
			return
		}
		branch := "├── "
		if i == len(items)-1 {
			branch = "└── "
		}
		fmt.Fprintln(p.w, branch+item)
	}
}

func (p *Printer) riskSummary(g *DependencyGraph) {
	w := p.w
	p.Header("Full Dependency Graph")
	if len(g.HighRisk) == 0 && len(g.MediumRisk) == 0 {
		p.green().Fprintln(w, "No high or medium risk entities.")
		return
	}
	if len(g.HighRisk) > 0 {
		p.red().Fprintln(w, "⚠️  HIGH RISK (breaking change impacts):")
		for i, item := range g.HighRisk {
			if i == maxBranches {
				fmt.Fprintf(w, "   ... and %d more\n", len(g.HighRisk)-maxBranches)
				break
			}
			fmt.Fprintf(w, "   • %s (%d dependents)\n", item.Name, item.Dependents)
		}
	}
	if len(g.MediumRisk) > 0 {
		if len(g.HighRisk) > 0 {
			fmt.Fprintln(w)
		}
		p.yellow().Fprintln(w, "⚡ MEDIUM RISK:")
		for i, item := range g.MediumRisk {
			if i == maxBranches {
				fmt.Fprintf(w, "   ... and %d more\n", len(g.MediumRisk)-maxBranches)
				break
			}
			fmt.Fprintf(w, "   • %s\n", item.Name)
		}
	}
}

// SequenceMessage is one arrow of a sequence diagram
type SequenceMessage struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Label  string `json:"label"`
	Return bool   `json:"return,omitempty"`
}

// SequenceDiagram is a call flow from one entity. Participants are named;
// the entity's actors come first, then the entities on its callee chain.
type SequenceDiagram struct {
	Title        string            `json:"title"`
	Participants []string          `json:"participants"`
	Messages     []SequenceMessage `json:"messages"`
}

// BuildSequence follows callee edges from root, at most maxDepth calls
// deep. The first actor of root starts the flow. lookup resolves callee
// ids; an unresolved callee appears under its id and is not followed.
// Every entity is expanded once, so cycles end after one round.
func BuildSequence(root *models.Entity, lookup func(id string) (*models.Entity, bool), maxDepth int) *SequenceDiagram {
	if maxDepth <= 0 {
		maxDepth = DefaultSequenceDepth
	}
	d := &SequenceDiagram{
		Title:        "Sequence: " + root.Name,
		Participants: []string{},
		Messages:     []SequenceMessage{},
	}
	joined := make(map[string]bool)
	join := func(name string) {
		if !joined[name] {
			joined[name] = true
			d.Participants = append(d.Participants, name)
		}
	}
	for _, a := range root.Actors {
		join(a)
	}
	join(root.Name)

	send := func(from, to, label string, ret bool) {
		d.Messages = append(d.Messages, SequenceMessage{From: from, To: to, Label: label, Return: ret})
	}
	if len(root.Actors) > 0 {
		send(root.Actors[0], root.Name, root.Name+"()", false)
	}

	expanded := map[string]bool{root.ID: true}
	var walk func(e *models.Entity, depth int)
	walk = func(e *models.Entity, depth int) {
		if depth >= maxDepth {
			return
		}
		for _, id := range e.Callees {
			name := id
			callee, ok := lookup(id)
			if ok {
				name = callee.Name
			}
			join(name)
			send(e.Name, name, name+"()", false)
			if ok && !expanded[id] {
				expanded[id] = true
				walk(callee, depth+1)
			}
			send(name, e.Name, "return", true)
		}
	}
	walk(root, 0)

	if len(root.Actors) > 0 {
		send(root.Name, root.Actors[0], "return", true)
	}
	return d
}

// Sequence writes a sequence diagram with one lifeline per participant
func (p *Printer) Sequence(d *SequenceDiagram) error {
	if p.JSON() {
		return p.WriteJSON(d)
	}
	w := p.w
	p.Header(d.Title)

	width := 12
	column := make(map[string]int, len(d.Participants))
	for i, name := range d.Participants {
		column[name] = i
		width = max(width, utf8.RuneCountInString(name)+4)
	}
	for _, m := range d.Messages {
		width = max(width, utf8.RuneCountInString(m.Label)+4)
	}
	center := func(i int) int { return i*width + width/2 }
	blank := func() []rune {
		return []rune(strings.Repeat(" ", width*len(d.Participants)))
	}

	header := blank()
	lifeline := blank()
	for i, name := range d.Participants {
		copy(header[center(i)-utf8.RuneCountInString(name)/2:], []rune(name))
		lifeline[center(i)] = '│'
	}
	row := func(r []rune) { fmt.Fprintln(w, strings.TrimRight(string(r), " ")) }

	p.bold().Fprintln(w, strings.TrimRight(string(header), " "))
	row(lifeline)
	for _, m := range d.Messages {
		r := slices.Clone(lifeline)
		arrow(r, center(column[m.From]), center(column[m.To]), m.Label, m.Return)
		row(r)
	}
	row(lifeline)
	if len(d.Messages) == 0 {
		p.gray().Fprintln(w, "\nNo calls recorded")
	}
	return nil
}

// arrow draws a message between the lifelines at columns from and to.
// Returns are dotted.
func arrow(r []rune, from, to int, label string, ret bool) {
	text := []rune(label)
	if from == to {
		copy(r[min(from+2, len(r)):], []rune("↺ "+label))
		return
	}
	line := '─'
	if ret {
		line = '┄'
	}
	lo, hi := min(from, to), max(from, to)
	for x := lo + 1; x < hi; x++ {
		r[x] = line
	}
	if to > from {
		r[hi-1] = '>'
	} else {
		r[lo+1] = '<'
	}
	if span := hi - lo - 1; len(text)+2 <= span {
		copy(r[lo+1+(span-len(text))/2:], text)
	}
}
