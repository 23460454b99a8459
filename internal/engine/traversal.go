package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mschirtzinger/docgraph/internal/types"
)

type direction string

const (
	down direction = "descendants"
	up   direction = "ancestors"
)

// step is one traversal result before documents are attached.
type step struct {
	node  string
	edge  *types.Relationship
	depth int
}

// pendingEdges holds edges accepted earlier in a bulk batch but not yet
// persisted. Only downward expansion consults it.
type pendingEdges struct {
	children map[string][]*types.Relationship
	pairs    map[[2]string]int
}

func newPendingEdges() *pendingEdges {
	return &pendingEdges{
		children: make(map[string][]*types.Relationship),
		pairs:    make(map[[2]string]int),
	}
}

func (p *pendingEdges) add(index int, in types.RelationshipInput) {
	p.children[in.ParentID] = append(p.children[in.ParentID], &types.Relationship{
		ParentID:         in.ParentID,
		ChildID:          in.ChildID,
		RelationshipType: in.RelationshipType,
	})
	p.pairs[[2]string{in.ParentID, in.ChildID}] = index
}

func (p *pendingEdges) index(parentID, childID string) (int, bool) {
	if p == nil {
		return 0, false
	}
	i, ok := p.pairs[[2]string{parentID, childID}]
	return i, ok
}

// levelEdges fetches one level of edges leaving the frontier in dir.
func (e *Engine) levelEdges(ctx context.Context, frontier []string, dir direction, pending *pendingEdges) ([]*types.Relationship, error) {
	if dir == up {
		return e.store.ParentEdges(ctx, frontier)
	}
	edges, err := e.store.ChildEdges(ctx, frontier)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		for _, id := range frontier {
			edges = append(edges, pending.children[id]...)
		}
	}
	return edges, nil
}

// expand walks the graph from start one level at a time, up to maxDepth
// levels (maxDepth < 0 means no bound).
//
// Without dedupe, a node is emitted once per distinct path that reaches it,
// so diamonds produce repeated entries. With dedupe, each node is emitted
// once at its minimum depth and never re-expanded.
//
// Each level is ordered by node id; ties keep the order of the frontier entry
// they were reached from.
func (e *Engine) expand(ctx context.Context, start string, dir direction, maxDepth int, dedupe bool) ([]step, error) {
	var out []step
	frontier := []string{start}
	visited := map[string]bool{start: true}

	for depth := 1; len(frontier) > 0 && (maxDepth < 0 || depth <= maxDepth); depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		unique := uniqueIDs(frontier)
		edges, err := e.levelEdges(ctx, unique, dir, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s of %s at depth %d: %w", dir, start, depth, err)
		}

		bySource := make(map[string][]*types.Relationship, len(unique))
		for _, edge := range edges {
			src := edge.ParentID
			if dir == up {
				src = edge.ChildID
			}
			bySource[src] = append(bySource[src], edge)
		}

		var level []step
		for _, src := range frontier {
			for _, edge := range bySource[src] {
				node := edge.ChildID
				if dir == up {
					node = edge.ParentID
				}
				if dedupe {
					if visited[node] {
						continue
					}
					visited[node] = true
				}
				level = append(level, step{node: node, edge: edge, depth: depth})
			}
		}
		sort.SliceStable(level, func(i, j int) bool { return level[i].node < level[j].node })

		frontier = make([]string, 0, len(level))
		for _, s := range level {
			frontier = append(frontier, s.node)
		}
		out = append(out, level...)
	}

	return out, nil
}

// reachable reports whether target is reachable from start by following
// child edges, searching at most maxDepth levels.
func (e *Engine) reachable(ctx context.Context, start, target string, maxDepth int, pending *pendingEdges) (bool, error) {
	frontier := []string{start}
	visited := map[string]bool{start: true}

	for depth := 1; len(frontier) > 0 && depth <= maxDepth; depth++ {
		edges, err := e.levelEdges(ctx, frontier, down, pending)
		if err != nil {
			return false, fmt.Errorf("failed to expand descendants of %s at depth %d: %w", start, depth, err)
		}

		var next []string
		for _, edge := range edges {
			if edge.ChildID == target {
				return true, nil
			}
			if !visited[edge.ChildID] {
				visited[edge.ChildID] = true
				next = append(next, edge.ChildID)
			}
		}
		frontier = next
	}
	return false, nil
}

// attach resolves documents for steps and builds hierarchy nodes. Steps whose
// document vanished concurrently are dropped.
func (e *Engine) attach(ctx context.Context, steps []step) ([]types.HierarchyNode, error) {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.node
	}
	docs, err := e.store.GetDocuments(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}

	nodes := make([]types.HierarchyNode, 0, len(steps))
	for _, s := range steps {
		doc, ok := docs[s.node]
		if !ok {
			continue
		}
		nodes = append(nodes, types.HierarchyNode{
			Document:         doc,
			RelationshipType: s.edge.RelationshipType,
			RelationshipID:   s.edge.ID,
			Depth:            s.depth,
		})
	}
	return nodes, nil
}

// GetAncestors returns the ancestors of documentID ordered by increasing
// depth: the immediate parents at depth 1, then their parents, up to
// maxDepth levels (maxDepth <= 0 uses the configured default of 10). An
// ancestor reachable by several paths appears once per path.
//
// A document with no parents, or one that does not exist, yields an empty
// list.
func (e *Engine) GetAncestors(ctx context.Context, documentID string, maxDepth int) ([]types.HierarchyNode, error) {
	if maxDepth <= 0 {
		maxDepth = e.cfg.AncestorDepth
	}
	return e.traverse(ctx, documentID, up, maxDepth)
}

// GetDescendants returns the descendants of documentID breadth-first, up to
// maxDepth levels (maxDepth <= 0 uses the configured default of 20). Within
// a level, entries are ordered by document id.
func (e *Engine) GetDescendants(ctx context.Context, documentID string, maxDepth int) ([]types.HierarchyNode, error) {
	if maxDepth <= 0 {
		maxDepth = e.cfg.DescendantDepth
	}
	return e.traverse(ctx, documentID, down, maxDepth)
}

func (e *Engine) traverse(ctx context.Context, documentID string, dir direction, maxDepth int) (nodes []types.HierarchyNode, err error) {
	ctx, span := startSpan(ctx, "Get"+capitalize(string(dir)),
		attribute.String("document_id", documentID),
		attribute.Int("max_depth", maxDepth),
	)
	defer func() {
		span.SetAttributes(attribute.Int("result_count", len(nodes)))
		endSpan(span, err)
	}()

	start := time.Now()
	defer func() { traversalDuration.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds()) }()

	steps, err := e.expand(ctx, documentID, dir, maxDepth, false)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return []types.HierarchyNode{}, nil
	}
	return e.attach(ctx, steps)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
