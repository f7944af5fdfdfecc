// Package jobrunner assembles the environment for a build job from
// its resolved imports and executes its commands hermetically
// (component C4).
package jobrunner

import "fmt"

// stableTopologicalSort orders refs so that every entry in before[u]
// appears after u, breaking ties by original position in refs so the
// result is deterministic across runs of an equivalent spec.
func stableTopologicalSort(refs []string, before map[string][]string) ([]string, error) {
	index := make(map[string]int, len(refs))
	indegree := make(map[string]int, len(refs))
	adj := make(map[string][]string)
	remaining := make(map[string]bool, len(refs))
	for i, r := range refs {
		index[r] = i
		indegree[r] = 0
		remaining[r] = true
	}
	for u, vs := range before {
		for _, v := range vs {
			adj[u] = append(adj[u], v)
			indegree[v]++
		}
	}

	order := make([]string, 0, len(refs))
	for len(order) < len(refs) {
		best := ""
		bestIdx := -1
		for r := range remaining {
			if indegree[r] != 0 {
				continue
			}
			if bestIdx == -1 || index[r] < bestIdx {
				best, bestIdx = r, index[r]
			}
		}
		if bestIdx == -1 {
			return nil, fmt.Errorf("jobrunner: cycle in before constraints among imports")
		}
		order = append(order, best)
		delete(remaining, best)
		for _, v := range adj[best] {
			indegree[v]--
		}
	}
	return order, nil
}
