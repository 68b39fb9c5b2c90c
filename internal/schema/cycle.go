package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/linkage"
)

// CycleWarning reports tables whose cascading removals feed back into
// each other.
//
// Cycles are warnings, not errors: a self-referencing tree table is a
// common shape, and the engine's cycle detector stops a removal that
// would revisit a fact.
type CycleWarning struct {
	Path    []string `json:"path"` // ["a", "b", "a"]
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// referenceGraph maps a table to the tables a removal there cascades into.
type referenceGraph map[string][]string

// AnalyzeCycles finds cascade cycles with Tarjan's algorithm. Each
// strongly connected component with more than one table, or with a
// self-reference, becomes one warning. Nullify and reassign references
// edit rows instead of removing them and never close a cycle.
func AnalyzeCycles(s *Schema) []CycleWarning {
	graph := buildReferenceGraph(s.ForeignKeys())
	if len(graph) == 0 {
		return nil
	}

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

func buildReferenceGraph(fks []linkage.ForeignKey) referenceGraph {
	graph := make(referenceGraph)
	for _, fk := range fks {
		if fk.OnRemove != linkage.Cascade {
			continue
		}
		from, to := string(fk.Foreign), string(fk.Local)
		if !slices.Contains(graph[from], to) {
			graph[from] = append(graph[from], to)
		}
		if graph[to] == nil {
			graph[to] = []string{}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph referenceGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC returns the strongly connected components of graph. Nodes are
// visited in sorted order so warnings are stable across runs.
func tarjanSCC(graph referenceGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph referenceGraph) CycleWarning {
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("table %s cascades into itself", scc[0]),
			Level:   "warning",
		}
	}
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("cascade cycle: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside scc from its first member until
// it returns there.
func reconstructCyclePath(scc []string, graph referenceGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// applyOrder sorts tables so that every referenced table comes before the
// tables referencing it. Ties and cycles keep declaration order.
func applyOrder(s *Schema) []ir.TableName {
	deps := make(map[ir.TableName][]ir.TableName)
	for _, fk := range s.ForeignKeys() {
		if fk.Foreign != fk.Local {
			deps[fk.Local] = append(deps[fk.Local], fk.Foreign)
		}
	}

	var order []ir.TableName
	state := make(map[ir.TableName]int) // 1 visiting, 2 done
	var visit func(ir.TableName)
	visit = func(n ir.TableName) {
		if state[n] != 0 {
			return
		}
		state[n] = 1
		for _, d := range deps[n] {
			if _, ok := s.Table(d); ok {
				visit(d)
			}
		}
		state[n] = 2
		order = append(order, n)
	}
	for _, t := range s.Tables {
		visit(t.Name)
	}
	return order
}
