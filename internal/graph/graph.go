package graph

import "sort"

// Build constructs a TaskGraph from a task set. Edges are taken from both
// Blocks and BlockedBy so a one-sided edge still shows up. Edges to unknown
// tasks and self-edges are dropped. Build never fails on cycles; callers
// that need an acyclic graph check DetectCycle.
func Build(tasks []Task) *TaskGraph {
	g := &TaskGraph{
		Tasks:  make(map[string]*Task),
		Adj:    make(map[string][]string),
		RevAdj: make(map[string][]string),
	}

	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			continue
		}
		g.Tasks[t.ID] = &t
	}

	edgeSet := make(map[[2]string]bool)
	addEdge := func(from, to string) {
		key := [2]string{from, to}
		if edgeSet[key] {
			return
		}
		edgeSet[key] = true
		g.Adj[from] = append(g.Adj[from], to)
		g.RevAdj[to] = append(g.RevAdj[to], from)
	}

	for id, task := range g.Tasks {
		for _, blocked := range task.Blocks {
			if _, ok := g.Tasks[blocked]; ok && blocked != id {
				addEdge(id, blocked)
			}
		}
		for _, blocker := range task.BlockedBy {
			if _, ok := g.Tasks[blocker]; ok && blocker != id {
				addEdge(blocker, id)
			}
		}
	}

	// Sort adjacency lists for deterministic ordering
	for k := range g.Adj {
		sort.Strings(g.Adj[k])
	}
	for k := range g.RevAdj {
		sort.Strings(g.RevAdj[k])
	}

	for id := range g.Tasks {
		if len(g.RevAdj[id]) == 0 {
			g.Roots = append(g.Roots, id)
		}
		if len(g.Adj[id]) == 0 {
			g.Leaves = append(g.Leaves, id)
		}
	}
	sort.Strings(g.Roots)
	sort.Strings(g.Leaves)
	return g
}

// DetectCycle returns the cycle path if one exists, or nil if the graph is acyclic.
// Uses DFS with coloring: white (unvisited), gray (in progress), black (done).
func (g *TaskGraph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = gray
		for _, next := range g.Adj[node] {
			if color[next] == gray {
				cycle := []string{next, node}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for _, id := range g.sortedIDs() {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// CyclicTasks returns every task that lies on some cycle (Tarjan's strongly
// connected components, keeping components of more than one task).
func (g *TaskGraph) CyclicTasks() map[string]bool {
	index := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	next := 0
	out := make(map[string]bool)

	var strong func(v string)
	strong = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Adj[v] {
			if _, seen := index[w]; !seen {
				strong(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 {
				for _, id := range comp {
					out[id] = true
				}
			}
		}
	}

	for _, id := range g.sortedIDs() {
		if _, seen := index[id]; !seen {
			strong(id)
		}
	}
	return out
}

// Reachable reports whether to can be reached from from by following
// blocker -> blocked edges.
func (g *TaskGraph) Reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.Adj[cur] {
			if n == to {
				return true
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// TaskCount returns the number of tasks in the graph.
func (g *TaskGraph) TaskCount() int {
	return len(g.Tasks)
}

// Filter returns a new TaskGraph containing only tasks matching the predicate.
// Edges to filtered-out tasks are dropped.
func (g *TaskGraph) Filter(pred func(*Task) bool) *TaskGraph {
	var kept []Task
	for _, id := range g.sortedIDs() {
		if t := g.Tasks[id]; pred(t) {
			kept = append(kept, *t)
		}
	}
	return Build(kept)
}

// Without returns a copy of the graph minus the given tasks.
func (g *TaskGraph) Without(ids map[string]bool) *TaskGraph {
	return g.Filter(func(t *Task) bool { return !ids[t.ID] })
}

func (g *TaskGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
