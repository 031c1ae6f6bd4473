// Package resolve builds the dependency graph of a recipe.
//
// Requirements are resolved in two contexts: host requirements are built for
// the profile's settings, tool requirements for the machine running the
// build. Inside one context a package name maps to exactly one node, so the
// same reference declared twice is shared and two different versions of one
// package are a conflict.
package resolve

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
	"github.com/im3e/forge/x/gnu"
)

// Context is the resolution context of a node.
type Context string

const (
	Host  Context = "host"
	Build Context = "build"
)

// Source provides recipes by reference.
type Source interface {
	Recipe(ctx context.Context, ref module.Version) (*recipe.Recipe, error)
}

// Options configures a resolution.
type Options struct {
	// Settings is the host profile, BuildSettings the build profile. An
	// empty BuildSettings falls back to Settings.
	Settings      recipe.Settings
	BuildSettings recipe.Settings

	// UserOptions take precedence over every default. An assignment without
	// pattern targets the root.
	UserOptions []recipe.OptionAssignment

	// Tested is the reference a test package under resolution requires.
	Tested *module.Version
}

// Edge is a requirement between two nodes.
type Edge struct {
	Node *Node
	// Components the requirer links against.
	Components []string
}

// Node is one package of the graph.
type Node struct {
	Ref      module.Version
	Recipe   *recipe.Recipe
	Context  Context
	Settings recipe.Settings
	Options  recipe.Options

	Requires     []*Edge
	ToolRequires []*Node

	// Requirers lists the nodes requiring this one, in discovery order.
	Requirers []*Node
	// parent is the requirer this node was discovered through.
	parent *Node
}

func (n *Node) String() string {
	if n.Context == Build {
		return n.Ref.String() + " (build)"
	}
	return n.Ref.String()
}

type key struct {
	ctx  Context
	name string
}

// Graph is a resolved dependency graph.
type Graph struct {
	Root  *Node
	nodes map[key]*Node
}

// Node returns the node of name in ctx, or nil.
func (g *Graph) Node(ctx Context, name string) *Node {
	return g.nodes[key{ctx, name}]
}

// Nodes returns every node sorted by context then name.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, compareNodes)
	return nodes
}

func compareNodes(a, b *Node) int {
	if c := strings.Compare(string(a.Context), string(b.Context)); c != 0 {
		return c
	}
	return strings.Compare(a.Ref.Name, b.Ref.Name)
}

// ConflictError reports two different versions of one package required in
// the same context.
type ConflictError struct {
	Context Context
	Name    string
	// Versions maps each requirer to the version it requires.
	Versions map[string]string
}

func (e *ConflictError) Error() string {
	requirers := make([]string, 0, len(e.Versions))
	for r := range e.Versions {
		requirers = append(requirers, r)
	}
	slices.SortFunc(requirers, func(a, b string) int {
		if c := gnu.Compare(e.Versions[a], e.Versions[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	parts := make([]string, len(requirers))
	for i, r := range requirers {
		parts[i] = fmt.Sprintf("%s/%s required by %s", e.Name, e.Versions[r], r)
	}
	return fmt.Sprintf("version conflict for %s in %s context: %s", e.Name, e.Context, strings.Join(parts, ", "))
}

// OptionConflictError reports a package shared by two requirers whose
// pattern defaults give it different options.
type OptionConflictError struct {
	Ref       module.Version
	Requirers [2]module.Version
	Options   [2]recipe.Options
}

func (e *OptionConflictError) Error() string {
	return fmt.Sprintf("option conflict for %s: %s through %s, %s through %s",
		e.Ref, e.Options[0], e.Requirers[0], e.Options[1], e.Requirers[1])
}

// CycleError reports a requirement cycle.
type CycleError struct {
	Path []module.Version
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, ref := range e.Path {
		parts[i] = ref.String()
	}
	return "requirement cycle: " + strings.Join(parts, " -> ")
}

type resolver struct {
	src   Source
	opts  Options
	graph *Graph
	queue []*Node
}

// Resolve resolves the graph of root.
func Resolve(ctx context.Context, root *recipe.Recipe, src Source, opts Options) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	if len(opts.BuildSettings) == 0 {
		opts.BuildSettings = opts.Settings
	}
	r := &resolver{src: src, opts: opts, graph: &Graph{nodes: make(map[key]*Node)}}

	node, err := r.newNode(root, Host, nil)
	if err != nil {
		return nil, err
	}
	r.graph.Root = node

	for len(r.queue) > 0 {
		n := r.queue[0]
		r.queue = r.queue[1:]
		if err := r.expand(ctx, n); err != nil {
			return nil, err
		}
	}
	if _, err := r.graph.Order(); err != nil {
		return nil, err
	}
	logger.Debug("Resolved dependency graph.", "root", root.Ref(), "nodes", len(r.graph.nodes))
	return r.graph, nil
}

func (r *resolver) expand(ctx context.Context, n *Node) error {
	reqs := n.Recipe.Requires
	if n.Recipe.RequiresTestedReference && n == r.graph.Root {
		if r.opts.Tested == nil {
			return fmt.Errorf("%s requires the tested reference, but nothing is under test", n.Ref)
		}
		tested := recipe.Requirement{Ref: *r.opts.Tested}
		if i := slices.IndexFunc(reqs, func(req recipe.Requirement) bool { return req.Ref.Name == tested.Ref.Name }); i >= 0 {
			// An explicit require of the tested package keeps its components
			// and follows the version under test.
			tested.Components = reqs[i].Components
			reqs = slices.Delete(slices.Clone(reqs), i, i+1)
		}
		reqs = append([]recipe.Requirement{tested}, reqs...)
	}
	for _, req := range reqs {
		dep, err := r.require(ctx, n, req.Ref, n.Context)
		if err != nil {
			return err
		}
		n.Requires = append(n.Requires, &Edge{Node: dep, Components: req.Components})
	}
	for _, req := range n.Recipe.ToolRequires {
		dep, err := r.require(ctx, n, req.Ref, Build)
		if err != nil {
			return err
		}
		n.ToolRequires = append(n.ToolRequires, dep)
	}
	return nil
}

func (r *resolver) require(ctx context.Context, from *Node, ref module.Version, c Context) (*Node, error) {
	if existing := r.graph.Node(c, ref.Name); existing != nil {
		if existing.Ref.Version != ref.Version {
			versions := make(map[string]string)
			for _, req := range existing.Requirers {
				versions[req.Ref.String()] = existing.Ref.Version
			}
			if existing == r.graph.Root {
				versions["the root recipe"] = existing.Ref.Version
			}
			versions[from.Ref.String()] = ref.Version
			return nil, &ConflictError{Context: c, Name: ref.Name, Versions: versions}
		}
		if existing != r.graph.Root && existing.parent != from {
			opts, err := r.options(existing, from)
			if err != nil {
				return nil, err
			}
			if !maps.Equal(opts, existing.Options) {
				return nil, &OptionConflictError{
					Ref:       existing.Ref,
					Requirers: [2]module.Version{existing.parent.Ref, from.Ref},
					Options:   [2]recipe.Options{existing.Options, opts},
				}
			}
		}
		if !slices.Contains(existing.Requirers, from) {
			existing.Requirers = append(existing.Requirers, from)
		}
		return existing, nil
	}

	rec, err := r.src.Recipe(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%s requires %s: %w", from.Ref, ref, err)
	}
	n, err := r.newNode(rec, c, from)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *resolver) newNode(rec *recipe.Recipe, c Context, from *Node) (*Node, error) {
	settings := r.opts.Settings
	if c == Build {
		settings = r.opts.BuildSettings
	}
	n := &Node{
		Ref:      rec.Ref(),
		Recipe:   rec,
		Context:  c,
		Settings: settings.Select(rec.Settings),
		parent:   from,
	}
	if from != nil {
		n.Requirers = []*Node{from}
	}
	opts, err := r.options(n, from)
	if err != nil {
		return nil, err
	}
	n.Options = opts
	r.graph.nodes[key{c, n.Ref.Name}] = n
	r.queue = append(r.queue, n)
	return n, nil
}

// options computes the frozen option values of n reached through parent.
// Precedence, lowest first: the recipe's defaults, the pattern defaults of
// the requirers from parent up to the root, so that requirers closer to the
// root win, then the user's assignments.
func (r *resolver) options(n, parent *Node) (recipe.Options, error) {
	opts := recipe.Defaults(n.Recipe)
	for p := parent; p != nil; p = p.parent {
		for _, d := range p.Recipe.DefaultOptions {
			if d.Pattern == "" || !d.Matches(n.Ref) {
				continue
			}
			if err := opts.Set(n.Recipe, d.Name, d.Value); err != nil {
				return nil, fmt.Errorf("default_options of %s: %w", p.Ref, err)
			}
		}
	}
	for _, u := range r.opts.UserOptions {
		if u.Pattern == "" && parent != nil {
			continue
		}
		if u.Pattern != "" && !u.Matches(n.Ref) {
			continue
		}
		if err := opts.Set(n.Recipe, u.Name, u.Value); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// Order returns the nodes dependencies first. Among nodes whose
// dependencies are all placed, build context comes before host context and
// names sort alphabetically.
func (g *Graph) Order() ([]*Node, error) {
	pending := make(map[*Node]int, len(g.nodes))
	dependents := make(map[*Node][]*Node, len(g.nodes))
	for _, n := range g.nodes {
		deps := n.deps()
		pending[n] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready []*Node
	for n, count := range pending {
		if count == 0 {
			ready = append(ready, n)
		}
	}
	order := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		slices.SortFunc(ready, compareNodes)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, &CycleError{Path: g.cycle()}
	}
	return order, nil
}

// deps returns the distinct direct dependencies of n in both contexts.
func (n *Node) deps() []*Node {
	var out []*Node
	for _, e := range n.Requires {
		if !slices.Contains(out, e.Node) {
			out = append(out, e.Node)
		}
	}
	for _, t := range n.ToolRequires {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// cycle finds one cycle by depth-first search from the sorted nodes.
func (g *Graph) cycle() []module.Version {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[*Node]int, len(g.nodes))
	var stack []*Node
	var found []module.Version

	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		state[n] = active
		stack = append(stack, n)
		deps := n.deps()
		slices.SortFunc(deps, compareNodes)
		for _, d := range deps {
			switch state[d] {
			case active:
				i := slices.Index(stack, d)
				for _, s := range stack[i:] {
					found = append(found, s.Ref)
				}
				found = append(found, d.Ref)
				return true
			case unvisited:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}
	for _, n := range g.Nodes() {
		if state[n] == unvisited && visit(n) {
			return found
		}
	}
	return nil
}

// HostDeps returns every host node n depends on through host requirements,
// directly or transitively, sorted by name.
func (g *Graph) HostDeps(n *Node) []*Node {
	seen := make(map[*Node]bool)
	var walk func(*Node)
	walk = func(m *Node) {
		for _, e := range m.Requires {
			if !seen[e.Node] {
				seen[e.Node] = true
				walk(e.Node)
			}
		}
	}
	walk(n)
	out := make([]*Node, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.SortFunc(out, compareNodes)
	return out
}
