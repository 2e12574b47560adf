package cpm

import (
	"fmt"
	"math"
	"sort"

	"github.com/kamlesh9876/devium/internal/graph"
)

// DefaultDuration is the duration, in hours, of a task with no estimate.
const DefaultDuration = 1.0

const epsilon = 1e-9

// Analyze performs critical path method analysis on a task graph.
// Remaining work is used as duration: estimatedHours minus actualHours,
// never below DefaultDuration. Done tasks take no time.
func Analyze(g *graph.TaskGraph) (*CPMResult, error) {
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}

	result := &CPMResult{
		Tasks:     make(map[string]*TaskSchedule),
		TopoOrder: order,
	}
	for _, id := range order {
		result.Tasks[id] = &TaskSchedule{TaskID: id, Duration: Duration(g.Tasks[id])}
	}

	// Forward pass: ES = max(EF of predecessors)
	for _, id := range order {
		ts := result.Tasks[id]
		for _, pred := range g.RevAdj[id] {
			ts.ES = math.Max(ts.ES, result.Tasks[pred].EF)
		}
		ts.EF = ts.ES + ts.Duration
		result.TotalDuration = math.Max(result.TotalDuration, ts.EF)
	}

	// Backward pass in reverse topological order
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		ts := result.Tasks[id]
		ts.LF = result.TotalDuration
		for _, succ := range g.Adj[id] {
			ts.LF = math.Min(ts.LF, result.Tasks[succ].LS)
		}
		ts.LS = ts.LF - ts.Duration
		ts.Slack = ts.LS - ts.ES
		ts.IsCritical = math.Abs(ts.Slack) < epsilon
	}

	for _, id := range order {
		if result.Tasks[id].IsCritical {
			result.CriticalPath = append(result.CriticalPath, id)
		}
	}

	result.Waves = computeWaves(result)
	return result, nil
}

// Duration returns the scheduling duration of t in hours.
func Duration(t *graph.Task) float64 {
	if t.IsDone() {
		return 0
	}
	remaining := t.EstimatedHours - t.ActualHours
	if remaining < DefaultDuration {
		return DefaultDuration
	}
	return remaining
}

// topoSort performs Kahn's algorithm for topological sorting.
func topoSort(g *graph.TaskGraph) ([]string, error) {
	inDegree := make(map[string]int)
	for id := range g.Tasks {
		inDegree[id] = len(g.RevAdj[id])
	}

	var queue []string
	for id := range g.Tasks {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var newReady []string
		for _, succ := range g.Adj[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newReady = append(newReady, succ)
			}
		}
		sort.Strings(newReady)
		queue = append(queue, newReady...)
	}

	if len(order) != len(g.Tasks) {
		return nil, fmt.Errorf("topological sort failed: graph has a cycle (%d of %d tasks sorted)", len(order), len(g.Tasks))
	}
	return order, nil
}

// computeWaves groups tasks by their earliest start time.
func computeWaves(result *CPMResult) []Wave {
	esGroups := make(map[float64][]string)
	for _, id := range result.TopoOrder {
		es := result.Tasks[id].ES
		esGroups[es] = append(esGroups[es], id)
	}

	esValues := make([]float64, 0, len(esGroups))
	for es := range esGroups {
		esValues = append(esValues, es)
	}
	sort.Float64s(esValues)

	waves := make([]Wave, len(esValues))
	for i, es := range esValues {
		taskIDs := esGroups[es]
		sort.Strings(taskIDs)

		hasCritical := false
		for _, id := range taskIDs {
			result.Tasks[id].Wave = i
			if result.Tasks[id].IsCritical {
				hasCritical = true
			}
		}

		// Critical tasks first within a wave
		sort.SliceStable(taskIDs, func(a, b int) bool {
			return result.Tasks[taskIDs[a]].IsCritical && !result.Tasks[taskIDs[b]].IsCritical
		})

		waves[i] = Wave{Index: i, TaskIDs: taskIDs, IsCritical: hasCritical}
	}
	return waves
}
