package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/entitysync/internal/record"
)

// CycleWarning is a cycle between types whose identities reference each
// other through entity keys.
//
// Cycles are warnings: the writer resolves tables in dependency order and a
// cycle means some places resolve before the places they reference.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["a.T", "a.U", "a.T"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// IdentityCycles reports identity reference cycles between types.
// A schema without cycles returns an empty list.
func IdentityCycles(s *Schema) []CycleWarning {
	graph := buildIdentityGraph(s)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0]) {
			warnings = append(warnings, cycleWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

// identityGraph maps type id to the types its identities reference.
type identityGraph map[string][]string

func buildIdentityGraph(s *Schema) identityGraph {
	graph := make(identityGraph, len(s.Types))
	for _, id := range s.TypeIDs() {
		graph[id] = []string{}
		for _, identity := range s.Types[id].Identities {
			for _, a := range identity {
				k := s.Keys[a.Key]
				if k.Class != record.ClassEntity || k.Target == "" {
					continue
				}
				if !slices.Contains(graph[id], k.Target) {
					graph[id] = append(graph[id], k.Target)
				}
			}
		}
		slices.Sort(graph[id])
	}
	return graph
}

// tarjanSCC finds strongly connected components. Members of each component
// are sorted.
func tarjanSCC(graph identityGraph) [][]string {
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
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

func cycleWarning(scc []string, graph identityGraph) CycleWarning {
	path := cyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("identity reference cycle: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// cyclePath walks from the first member through unvisited members until it
// gets back to the start.
func cyclePath(scc []string, graph identityGraph) []string {
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		var next string
		for _, n := range graph[current] {
			if members[n] && !visited[n] {
				next = n
				break
			}
		}
		if next == "" {
			if slices.Contains(graph[current], start) {
				path = append(path, start)
			}
			return path
		}
		path = append(path, next)
		visited[next] = true
		current = next
	}
}
