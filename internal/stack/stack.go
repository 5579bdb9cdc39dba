// Package stack resolves a revision's dependency graph from the review
// service into the set of landable DAG paths, porting
// calculate_landable_subgraphs from the original Lando API.
package stack

import "sort"

// RevisionID identifies a single revision in the review service's graph.
type RevisionID string

// Status is the subset of review-service revision status relevant to
// landability: whether the revision is still open for review.
type Status struct {
	Closed bool
}

// Revision carries the fields the resolver and the assessment engine need
// about one revision.
type Revision struct {
	ID             RevisionID
	RepositoryID   string
	Status         Status
}

// Edge represents a child -> parent dependency between two revisions.
type Edge struct {
	Child  RevisionID
	Parent RevisionID
}

// OtherCheck is an additional per-revision blocker check that doesn't
// depend on the stack's graph structure (e.g. review status, secure flag,
// code-freeze window). It returns a non-empty reason string to block, or
// an empty string to pass.
type OtherCheck func(rev *Revision) string

// Graph is an adjacency-list view over a set of revisions and edges.
type Graph struct {
	Nodes    map[RevisionID]*Revision
	Children map[RevisionID][]RevisionID
	Parents  map[RevisionID][]RevisionID
}

// BuildGraph constructs a Graph from a revision set and an edge set,
// sorting adjacency lists ascending by RevisionID so traversal order (and
// therefore path enumeration order) is deterministic.
func BuildGraph(revisions map[RevisionID]*Revision, edges []Edge) *Graph {
	g := &Graph{
		Nodes:    revisions,
		Children: map[RevisionID][]RevisionID{},
		Parents:  map[RevisionID][]RevisionID{},
	}
	for id := range revisions {
		g.Children[id] = nil
		g.Parents[id] = nil
	}
	for _, e := range edges {
		g.Children[e.Parent] = append(g.Children[e.Parent], e.Child)
		g.Parents[e.Child] = append(g.Parents[e.Child], e.Parent)
	}
	for id := range g.Children {
		sort.Slice(g.Children[id], func(i, j int) bool { return g.Children[id][i] < g.Children[id][j] })
	}
	for id := range g.Parents {
		sort.Slice(g.Parents[id], func(i, j int) bool { return g.Parents[id][i] < g.Parents[id][j] })
	}
	return g
}

// Result is the output of CalculateLandableSubgraphs: a set of landable
// DAG paths plus a reason string for every revision that was blocked.
type Result struct {
	Paths    [][]RevisionID
	Blockers map[RevisionID]string
}

// CalculateLandableSubgraphs walks the stack graph from its open, unblocked
// roots and returns every landable path plus a blocker reason for every
// revision that didn't make it into a path. landableRepos restricts which
// repositories are supported; otherChecks run per-revision once a
// revision's parent chain is otherwise clear.
func CalculateLandableSubgraphs(g *Graph, landableRepos map[string]bool, otherChecks []OtherCheck) *Result {
	blocked := map[string]string{}
	block := func(id RevisionID, reason string) {
		key := string(id)
		if _, ok := blocked[key]; !ok {
			blocked[key] = reason
		}
	}

	for id, rev := range g.Nodes {
		if rev.RepositoryID == "" {
			block(id, `Revision's repository unset. Specify a target using "Edit revision" in Phabricator`)
			continue
		}
		if !landableRepos[rev.RepositoryID] {
			block(id, "Repository is not supported by Lando.")
		}
	}

	for id, rev := range g.Nodes {
		if rev.Status.Closed {
			block(id, "Revision is closed.")
		}
	}

	var allIDs []RevisionID
	for id := range g.Nodes {
		allIDs = append(allIDs, id)
	}
	sort.Slice(allIDs, func(i, j int) bool { return allIDs[i] < allIDs[j] })

	roots := map[RevisionID]bool{}
	for _, id := range allIDs {
		if len(g.Parents[id]) == 0 {
			roots[id] = true
		}
	}

	// Promote through closed "roots" to their first open descendants.
	toProcess := setToSortedSlice(roots)
	roots = map[RevisionID]bool{}
	seen := map[RevisionID]bool{}
	for len(toProcess) > 0 {
		id := toProcess[0]
		toProcess = toProcess[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if !g.Nodes[id].Status.Closed {
			roots[id] = true
			continue
		}
		toProcess = append(toProcess, g.Children[id]...)
	}

	// A "root" that is also a descendant of another root isn't a true root.
	toProcess = nil
	for root := range roots {
		toProcess = append(toProcess, g.Children[root]...)
	}
	visited := map[RevisionID]bool{}
	for len(toProcess) > 0 {
		id := toProcess[0]
		toProcess = toProcess[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		delete(roots, id)
		toProcess = append(toProcess, g.Children[id]...)
	}

	for id := range roots {
		if _, isBlocked := blocked[string(id)]; isBlocked {
			delete(roots, id)
		}
	}

	rootList := setToSortedSlice(roots)
	roots = map[RevisionID]bool{}
	for _, root := range rootList {
		reason := blockedBy(root, g, blocked, otherChecks)
		if reason == "" {
			roots[root] = true
		} else {
			block(root, reason)
		}
	}

	landable := map[RevisionID]bool{}
	for root := range roots {
		landable[root] = true
	}
	var paths [][]RevisionID
	var queue [][]RevisionID
	for _, root := range setToSortedSlice(roots) {
		queue = append(queue, []RevisionID{root})
	}
	for len(queue) > 0 {
		path := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		var validChildren []RevisionID
		for _, child := range g.Children[path[len(path)-1]] {
			if g.Nodes[child].Status.Closed {
				continue
			}
			reason := blockedBy(child, g, blocked, otherChecks)
			if reason == "" {
				validChildren = append(validChildren, child)
				landable[child] = true
			} else {
				block(child, reason)
			}
		}

		if len(validChildren) > 0 {
			for _, child := range validChildren {
				next := append(append([]RevisionID{}, path...), child)
				queue = append(queue, next)
			}
		} else {
			paths = append(paths, path)
		}
	}

	for _, id := range allIDs {
		if !landable[id] {
			if _, isBlocked := blocked[string(id)]; !isBlocked {
				block(id, "Has an open ancestor revision that is blocked.")
			}
		}
	}

	result := &Result{Paths: paths, Blockers: map[RevisionID]string{}}
	for k, v := range blocked {
		result.Blockers[RevisionID(k)] = v
	}
	return result
}

func blockedBy(id RevisionID, g *Graph, blocked map[string]string, otherChecks []OtherCheck) string {
	if reason, ok := blocked[string(id)]; ok {
		return reason
	}

	var openParents []RevisionID
	for _, p := range g.Parents[id] {
		if !g.Nodes[p].Status.Closed {
			openParents = append(openParents, p)
		}
	}
	if len(openParents) > 1 {
		return "Depends on multiple open parents."
	}

	for _, parent := range openParents {
		if reason, ok := blocked[string(parent)]; ok {
			return "Depends on " + string(parent) + " which is open and blocked: " + reason
		}
	}

	if len(openParents) == 1 {
		parent := openParents[0]
		if g.Nodes[id].RepositoryID != g.Nodes[parent].RepositoryID {
			return "Depends on " + string(parent) + " which is open and has a different repository."
		}
	}

	rev := g.Nodes[id]
	for _, check := range otherChecks {
		if reason := check(rev); reason != "" {
			return reason
		}
	}

	return ""
}

func setToSortedSlice(m map[RevisionID]bool) []RevisionID {
	out := make([]RevisionID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
