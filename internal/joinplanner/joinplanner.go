// Package joinplanner chooses a connected join spanning tree across the
// cubes referenced by a query, honoring preferredFor hints and declared
// relationship cardinality. It is grounded on forma's graph-of-relations
// style (internal/relation_index.go) and the decision-struct shape of
// internal/federated_routing.go, adapted from parent/child schema relations
// to an undirected cube join graph.
package joinplanner

import (
	"fmt"
	"sort"
)

// Relationship mirrors cubeengine.Relationship without importing the root
// package (the root package wires this one).
type Relationship string

const (
	BelongsTo Relationship = "belongsTo"
	HasOne    Relationship = "hasOne"
	HasMany   Relationship = "hasMany"
)

// Pair mirrors cubeengine.JoinPair without importing the root package.
type Pair struct {
	SourceColumn string
	TargetColumn string
}

// Edge is one declared join, directed from Source to Target. On is always
// expressed in Source/Target column order regardless of which direction
// the graph walk traverses it in (AddEdge swaps columns for the reverse
// edge it synthesizes).
type Edge struct {
	Source       string
	Target       string
	Relationship Relationship
	PreferredFor []string
	On           []Pair
}

// JoinType is the SQL join kind the planner emits for one step.
type JoinType string

const (
	Inner JoinType = "INNER"
	Left  JoinType = "LEFT"
)

// Step is one edge of the chosen spanning tree, with its resolved SQL join
// type and direction (From is already-joined, To is newly introduced).
type Step struct {
	From string
	To   string
	Edge Edge
	Type JoinType
}

// Plan is the ordered sequence of join steps plus any warnings the planner
// wants surfaced to the caller.
type Plan struct {
	Root     string
	Steps    []Step
	FanOutWarning bool
}

// Graph is the undirected adjacency built from declared joins; edges are
// stored once per direction so either endpoint can be used as a walk root.
type Graph struct {
	adj map[string][]Edge
}

// NewGraph returns an empty Graph; edges are added with AddEdge, which
// indexes each declared edge under its Source and also stores the reverse
// traversal under its Target, so either endpoint can be a walk root.
func NewGraph() *Graph {
	return &Graph{adj: make(map[string][]Edge)}
}

// AddEdge registers a directed join declaration and its reverse traversal
// pointer (without flipping Relationship — Step.Type is always computed
// from the edge as declared).
func (g *Graph) AddEdge(e Edge) {
	g.adj[e.Source] = append(g.adj[e.Source], e)

	reverseOn := make([]Pair, len(e.On))
	for i, p := range e.On {
		reverseOn[i] = Pair{SourceColumn: p.TargetColumn, TargetColumn: p.SourceColumn}
	}
	g.adj[e.Target] = append(g.adj[e.Target], Edge{
		Source: e.Target, Target: e.Source,
		Relationship: e.Relationship, PreferredFor: nil, On: reverseOn,
	})
}

// neighbors returns the edges available from a cube, sorted
// lexicographically by target for deterministic tie-breaking.
func (g *Graph) neighbors(cube string) []Edge {
	edges := append([]Edge(nil), g.adj[cube]...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Target < edges[j].Target })
	return edges
}

// BuildPlan builds a connected spanning tree across referenced, rooted at root,
// preferring preferredFor hints and breaking ties by shortest path then
// lexicographic cube name.
func BuildPlan(g *Graph, root string, referenced []string) (*Plan, error) {
	need := make(map[string]bool, len(referenced))
	for _, c := range referenced {
		need[c] = true
	}

	visited := map[string]bool{root: true}
	var steps []Step

	type frontierEntry struct {
		cube  string
		depth int
	}
	frontier := []frontierEntry{{root, 0}}

	for len(frontier) > 0 {
		// BFS layer, but at each fork prefer edges whose PreferredFor
		// includes a still-missing target cube.
		sort.Slice(frontier, func(i, j int) bool {
			if frontier[i].depth != frontier[j].depth {
				return frontier[i].depth < frontier[j].depth
			}
			return frontier[i].cube < frontier[j].cube
		})
		current := frontier[0]
		frontier = frontier[1:]

		edges := g.neighbors(current.cube)
		// Prefer edges whose PreferredFor names a missing cube.
		sort.SliceStable(edges, func(i, j int) bool {
			pi := prefersAny(edges[i], need, visited)
			pj := prefersAny(edges[j], need, visited)
			if pi != pj {
				return pi
			}
			return edges[i].Target < edges[j].Target
		})

		for _, e := range edges {
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			steps = append(steps, Step{
				From: current.cube,
				To:   e.Target,
				Edge: e,
				Type: joinTypeFor(e),
			})
			frontier = append(frontier, frontierEntry{e.Target, current.depth + 1})
		}
	}

	for c := range need {
		if !visited[c] {
			return nil, fmt.Errorf("joinplanner: cube %q is unreachable from root %q", c, root)
		}
	}

	// Drop steps that lead to no referenced cube. Steps are in BFS order, so
	// walking backwards removes a branch's leaves before its parents.
	for i := len(steps) - 1; i >= 0; i-- {
		leaf := !need[steps[i].To]
		for _, o := range steps {
			leaf = leaf && o.From != steps[i].To
		}
		if leaf {
			steps = append(steps[:i], steps[i+1:]...)
		}
	}

	return &Plan{Root: root, Steps: steps}, nil
}

func prefersAny(e Edge, need map[string]bool, visited map[string]bool) bool {
	for _, pf := range e.PreferredFor {
		if need[pf] && !visited[pf] {
			return true
		}
	}
	return false
}

func joinTypeFor(e Edge) JoinType {
	switch e.Relationship {
	case BelongsTo, HasOne:
		return Inner
	case HasMany:
		return Left
	default:
		return Inner
	}
}

// ApplyPivotFallback downgrades hasMany LEFT joins to INNER when the
// hasMany side contributes no projected field and the query is pure
// pivot-style.
func ApplyPivotFallback(plan *Plan, cubeHasProjectedFields map[string]bool, pivotStyle bool) {
	if !pivotStyle {
		return
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Type == Left && !cubeHasProjectedFields[s.To] {
			s.Type = Inner
		}
	}
}

// FanOutWarning reports whether the plan contains a hasMany join with no
// dimension from the hasMany side, which forces a caller-visible dedup
// warning.
func FanOutWarning(plan *Plan, cubeHasProjectedDimension map[string]bool) bool {
	for _, s := range plan.Steps {
		if s.Type == Left && s.Edge.Relationship == HasMany && !cubeHasProjectedDimension[s.To] {
			return true
		}
	}
	return false
}

// Connected reports whether every cube in referenced is reachable from
// root via g (used by the caller to raise query/unconnected-cubes before
// invoking BuildPlan, so the error carries the caller's own error kind).
func Connected(g *Graph, root string, referenced []string) bool {
	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.neighbors(cur) {
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	for _, c := range referenced {
		if !visited[c] {
			return false
		}
	}
	return true
}
