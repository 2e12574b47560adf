package cpm

// CPMResult holds the complete critical path analysis.
type CPMResult struct {
	Tasks         map[string]*TaskSchedule
	CriticalPath  []string // ordered task IDs on critical path
	TotalDuration float64  // hours
	Waves         []Wave   // groups that can proceed in parallel
	TopoOrder     []string
}

// TaskSchedule holds the scheduling info for a single task, in hours from
// the start of the remaining work.
type TaskSchedule struct {
	TaskID     string
	Duration   float64
	ES, EF     float64 // earliest start/finish
	LS, LF     float64 // latest start/finish
	Slack      float64
	IsCritical bool
	Wave       int
}

// Wave represents a group of tasks that can be worked on in parallel.
type Wave struct {
	Index      int
	TaskIDs    []string
	IsCritical bool // true if wave contains critical path tasks
}
