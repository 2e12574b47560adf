package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/kamlesh9876/devium/internal/bottleneck"
	"github.com/kamlesh9876/devium/internal/dashboard"
	"github.com/kamlesh9876/devium/internal/graph"
	"github.com/kamlesh9876/devium/internal/tasks"
)

// --- Graph types ---

type GraphNode struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Assignee   string  `json:"assignee,omitempty"`
	IsCritical bool    `json:"is_critical"`
	WaveIndex  int     `json:"wave_index"` // -1 when not scheduled
	Slack      float64 `json:"slack"`
}

type GraphEdge struct {
	From string `json:"from"` // blocker
	To   string `json:"to"`   // blocked
}

type GraphMetadata struct {
	GeneratedAt string   `json:"generated_at"`
	TotalTasks  int      `json:"total_tasks"`
	TotalWaves  int      `json:"total_waves"`
	TotalHours  float64  `json:"total_hours"`
	Cycle       []string `json:"cycle,omitempty"`
}

type Graph struct {
	Nodes        []GraphNode   `json:"nodes"`
	Edges        []GraphEdge   `json:"edges"`
	CriticalPath []string      `json:"critical_path"`
	Metadata     GraphMetadata `json:"metadata"`
}

// ToGraph converts tasks and their bottleneck report into the graph the UI
// renders. Done and cyclic tasks are not scheduled.
func ToGraph(ts []graph.Task, rep *bottleneck.Report) *Graph {
	g := graph.Build(ts)
	out := &Graph{Nodes: make([]GraphNode, 0, len(ts)), Edges: []GraphEdge{}}

	var sched map[string]bool
	waves := 0
	if rep != nil {
		out.CriticalPath = rep.CriticalPath
		out.Metadata.GeneratedAt = rep.GeneratedAt.Format(time.RFC3339)
		out.Metadata.TotalHours = rep.TotalHours
		out.Metadata.Cycle = rep.Cycle
		if res := rep.Schedule(); res != nil {
			waves = len(res.Waves)
			sched = make(map[string]bool, len(res.Tasks))
			for id := range res.Tasks {
				sched[id] = true
			}
		}
	}

	for _, t := range ts {
		n := GraphNode{
			ID:        t.ID,
			Title:     t.Title,
			Status:    string(t.Status),
			Assignee:  t.AssigneeName,
			WaveIndex: -1,
		}
		if sched[t.ID] {
			s := rep.Schedule().Tasks[t.ID]
			n.IsCritical = s.IsCritical
			n.WaveIndex = s.Wave
			n.Slack = s.Slack
		}
		out.Nodes = append(out.Nodes, n)
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })

	for from, succs := range g.Adj {
		for _, to := range succs {
			out.Edges = append(out.Edges, GraphEdge{From: from, To: to})
		}
	}
	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].From != out.Edges[j].From {
			return out.Edges[i].From < out.Edges[j].From
		}
		return out.Edges[i].To < out.Edges[j].To
	})

	out.Metadata.TotalTasks = len(out.Nodes)
	out.Metadata.TotalWaves = waves
	return out
}

// --- HTTP server ---

type server struct {
	svc *dashboard.Service
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Snapshot(r.Context())
	writeJSON(w, ToGraph(s.svc.Tasks().List(), snap.Bottlenecks))
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.svc.Snapshot(r.Context()))
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.svc.Health().Last()
	if rep.Status == "" {
		http.Error(w, "no health report yet", http.StatusNotFound)
		return
	}
	writeJSON(w, rep)
}

func (s *server) handleTasks(w http.ResponseWriter, r *http.Request) {
	f := tasks.Filter{
		Query:    r.URL.Query().Get("q"),
		Assignee: r.URL.Query().Get("assignee"),
	}
	if st := r.URL.Query().Get("status"); st != "" {
		f.Statuses = []graph.Status{graph.ParseStatus(st)}
	}
	found := s.svc.Tasks().Search(f)
	if found == nil {
		found = []graph.Task{}
	}
	writeJSON(w, found)
}

// Handler returns the read-only API over svc.
func Handler(svc *dashboard.Service) http.Handler {
	srv := &server{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /graph", srv.handleGraph)
	mux.HandleFunc("GET /snapshot", srv.handleSnapshot)
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /tasks", srv.handleTasks)
	return mux
}

// Start launches the API on the given port in the background and shuts it
// down when ctx is done. Returns the base URL (e.g. "http://localhost:7171").
func Start(ctx context.Context, port int, svc *dashboard.Service) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return "", fmt.Errorf("listen on port %d: %w", port, err)
	}

	hs := &http.Server{Handler: Handler(svc), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("viewer: %v\n", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	return fmt.Sprintf("http://localhost:%d", ln.Addr().(*net.TCPAddr).Port), nil
}
