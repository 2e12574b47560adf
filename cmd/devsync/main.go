package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/kamlesh9876/devium/internal/claude"
	"github.com/kamlesh9876/devium/internal/dashboard"
	"github.com/kamlesh9876/devium/internal/datasync"
	"github.com/kamlesh9876/devium/internal/reporter"
	"github.com/kamlesh9876/devium/internal/security"
	"github.com/kamlesh9876/devium/internal/state"
	"github.com/kamlesh9876/devium/internal/tasks"
	"github.com/kamlesh9876/devium/internal/ui"
	"github.com/kamlesh9876/devium/internal/viewer"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagSnapshot string
	flagJSON     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "devsync",
		Short: "Real-time sync and analysis for a team task board",
		Long: `devsync mirrors a team's tasks, users and security data from a Firebase
Realtime Database, queues writes while offline, and derives workload,
bottleneck, security and health findings from the live data.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default devsync.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&flagSnapshot, "snapshot", "", "Use a JSON database export instead of Firebase")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(securityCmd())
	rootCmd.AddCommand(reassignCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(inferDepsCmd())
	rootCmd.AddCommand(digestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// startEnv opens the environment and starts the dashboard service.
func startEnv(ctx context.Context, streamAlerts bool) (*env, error) {
	e, err := openEnv(ctx, streamAlerts)
	if err != nil {
		return nil, err
	}
	if err := e.start(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func newReporter(e *env, snap *dashboard.Snapshot) *reporter.Reporter {
	rep := reporter.New(snap)
	for _, t := range e.svc.Tasks().List() {
		rep.Titles[t.ID] = t.Title
	}
	return rep
}

func watchCmd() *cobra.Command {
	var (
		flagInterval time.Duration
		flagPort     int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay subscribed, stream changes and keep .devsync/state.json current",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			e, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := state.New(e.source)
			if err != nil {
				return err
			}

			dispose := e.sync.OnSyncEvent(func(ev datasync.SyncEvent) {
				e.stream.Event(string(ev.Type), ev.Collection, ev.DocumentID, ev.Actor)
			})
			defer dispose()

			if !flagJSON {
				ui.PrintLogo()
			}
			if err := e.start(ctx); err != nil {
				_ = st.SetStatus(state.StatusFailed)
				return err
			}
			e.stream.Info("watching %s", ui.Bold(e.source))
			if flagPort > 0 {
				addr, err := viewer.Start(ctx, flagPort, e.svc)
				if err != nil {
					_ = st.SetStatus(state.StatusFailed)
					return err
				}
				e.stream.Info("API at %s", ui.Bold(addr))
			}

			// Setup signal handling
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					e.stream.Info("%s", ui.Yellow("shutting down..."))
					cancel()
				case <-ctx.Done():
				}
			}()

			errCh := make(chan error, 1)
			go func() { errCh <- e.svc.Run(ctx) }()

			persist := func(ctx context.Context) {
				snap := e.svc.Snapshot(ctx)
				if err := snap.Persist(st); err != nil {
					e.stream.Info("%s persist state: %v", ui.Yellow("⚠️  Warning:"), err)
				}
			}
			persist(ctx)

			ticker := time.NewTicker(flagInterval)
			defer ticker.Stop()
			var runErr error
		loop:
			for {
				select {
				case <-ctx.Done():
					runErr = <-errCh
					break loop
				case runErr = <-errCh:
					break loop
				case <-ticker.C:
					persist(ctx)
				}
			}

			persist(context.Background())
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				_ = st.SetStatus(state.StatusFailed)
				return runErr
			}
			if err := e.saveSnapshot(); err != nil {
				return err
			}
			return st.SetStatus(state.StatusStopped)
		},
	}

	cmd.Flags().DurationVar(&flagInterval, "interval", 5*time.Second, "How often the state file is refreshed")
	cmd.Flags().IntVar(&flagPort, "port", 0, "Serve the read-only JSON API on this port (0 disables)")
	return cmd
}

func statusCmd() *cobra.Command {
	var flagClean bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state recorded by the last watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagClean {
				return state.Clean()
			}
			if !state.Exists() {
				return fmt.Errorf("no watch state found (run 'devsync watch' first)")
			}
			st, err := state.Load()
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(st)
			}
			reporter.PrintState(os.Stdout, st, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagClean, "clean", false, "Remove the recorded state")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var flagSearch string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report bottlenecks, the critical path and team workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := startEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if flagSearch != "" {
				found := e.svc.Tasks().Search(tasks.Filter{Query: flagSearch})
				if flagJSON {
					return outputJSON(found)
				}
				fmt.Printf("🔍 %s tasks match %q\n", ui.Bold(len(found)), flagSearch)
				for _, t := range found {
					fmt.Printf("  %s %s %s %s\n", ui.StatusIcon(string(t.Status)), ui.BoldMagenta(t.ID), t.Title, ui.Dim(t.AssigneeName))
				}
				return nil
			}

			snap := e.svc.Snapshot(ctx)
			if flagJSON {
				return outputJSON(snap)
			}
			rep := newReporter(e, &snap)
			rep.PrintStatus(os.Stdout)
			fmt.Println()
			rep.PrintBottlenecks(os.Stdout)
			fmt.Println()
			rep.PrintWorkload(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagSearch, "search", "", "Fuzzy search task titles, descriptions and tags instead")
	return cmd
}

func securityCmd() *cobra.Command {
	var (
		flagScan     bool
		flagBlock    string
		flagBlockFor time.Duration
		flagResolve  string
	)

	cmd := &cobra.Command{
		Use:   "security",
		Short: "Show security metrics, scan content and manage threats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := startEnv(ctx, !flagJSON)
			if err != nil {
				return err
			}
			defer e.Close()
			sec := e.svc.Security()

			if flagBlock != "" {
				if err := sec.BlockIP(ctx, flagBlock, flagBlockFor); err != nil {
					return fmt.Errorf("block %s: %w", flagBlock, err)
				}
				if !flagJSON {
					fmt.Printf("%s blocked %s for %s\n", ui.BoldRed("⛔"), ui.Bold(flagBlock), flagBlockFor)
				}
			}
			if flagResolve != "" {
				if err := sec.ResolveThreat(ctx, flagResolve); err != nil {
					return err
				}
				if !flagJSON {
					fmt.Printf("%s resolved threat %s\n", ui.Green("✓"), ui.Bold(flagResolve))
				}
			}
			if flagScan {
				ids, err := sec.RunScan(ctx)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", ui.Yellow("⚠️  Warning:"), err)
				}
				if !flagJSON {
					fmt.Printf("🔎 Scan recorded %s events\n", ui.Bold(len(ids)))
				}
			}
			sec.Refresh(ctx)
			if err := e.saveSnapshot(); err != nil {
				return err
			}

			snap := e.svc.Snapshot(ctx)
			if flagJSON {
				return outputJSON(struct {
					Metrics security.Metrics  `json:"metrics"`
					Threats []security.Threat `json:"threats"`
				}{snap.Security, sec.Threats()})
			}
			newReporter(e, &snap).PrintSecurity(os.Stdout)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagScan, "scan", false, "Scan task content for injection patterns")
	cmd.Flags().StringVar(&flagBlock, "block", "", "Block an IP address")
	cmd.Flags().DurationVar(&flagBlockFor, "block-for", security.DefaultBlockDuration, "How long --block lasts")
	cmd.Flags().StringVar(&flagResolve, "resolve", "", "Resolve a threat by id")
	return cmd
}

func reassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <task-id>",
		Short: "Move a task to the least loaded team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := startEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			uid, err := e.svc.Workload().Reassign(ctx, args[0])
			if err != nil {
				return err
			}
			if uid == "" {
				if flagJSON {
					return outputJSON(map[string]string{"taskId": args[0], "assignee": ""})
				}
				fmt.Printf("%s no other team member available for %s\n", ui.Yellow("⏭️  SKIP:"), ui.BoldMagenta(args[0]))
				return nil
			}
			if err := e.saveSnapshot(); err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(map[string]string{"taskId": args[0], "assignee": uid})
			}
			fmt.Printf("%s %s → %s\n", ui.Green("✓"), ui.BoldMagenta(args[0]), ui.Bold(uid))
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	var flagDead bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Deliver writes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if flagDead {
				dead := e.sync.DeadLetters(ctx)
				if flagJSON {
					return outputJSON(dead)
				}
				if len(dead) == 0 {
					fmt.Println(ui.Dim("no dead letters"))
				}
				for _, d := range dead {
					fmt.Printf("  %s #%d %s %s/%s %s\n", ui.Red("✗"), d.Seq, d.Op, d.Collection, d.DocumentID, ui.Dim(d.LastError))
				}
				return nil
			}

			before := len(e.sync.PendingOperations(ctx))
			if e.sync.IsOnline() {
				err = e.sync.Replay(ctx)
			} else {
				e.sync.SetOnline(ctx, true)
			}
			status := e.sync.Status(ctx)
			if err := e.saveSnapshot(); err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(status)
			}
			fmt.Printf("📤 Replayed %s of %d queued writes", ui.Bold(before-status.PendingOperations), before)
			if status.DeadLetters > 0 {
				fmt.Printf(" %s", ui.Red(fmt.Sprintf("(%d dead letters)", status.DeadLetters)))
			}
			fmt.Println()
			return err
		},
	}

	cmd.Flags().BoolVar(&flagDead, "dead", false, "List writes that were given up on")
	return cmd
}

func inferDepsCmd() *cobra.Command {
	var (
		flagApply    bool
		flagModel    string
		flagFromFile string
	)

	cmd := &cobra.Command{
		Use:   "infer-deps",
		Short: "Use Claude to infer task dependencies from titles and descriptions",
		Long: `Sends open tasks to Claude and infers dependency edges.
By default runs in dry-run mode; use --apply to write the edges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := startEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			list := e.svc.Tasks().List()
			summaries := claude.Summaries(list)
			if len(summaries) == 0 {
				return fmt.Errorf("no open tasks found")
			}

			var result *claude.InferDepsResult
			if flagFromFile != "" {
				data, err := os.ReadFile(flagFromFile)
				if err != nil {
					return fmt.Errorf("read from-file: %w", err)
				}
				result = &claude.InferDepsResult{}
				if err := json.Unmarshal(data, result); err != nil {
					return fmt.Errorf("parse from-file: %w", err)
				}
			} else {
				if !flagJSON {
					fmt.Printf("🔍 Sending %s tasks to Claude for dependency inference...\n", ui.Bold(len(summaries)))
				}
				model := flagModel
				if model == "" {
					model = e.cfg.Claude.Model
				}
				client, err := claude.NewClient("", model)
				if err != nil {
					return err
				}
				result, err = client.InferDeps(ctx, summaries)
				if err != nil {
					return fmt.Errorf("infer deps: %w", err)
				}
			}

			valid := result.Valid(list)
			var applied []claude.DepEdge
			if flagApply {
				for _, edge := range valid {
					err := e.svc.Tasks().AddDependency(ctx, edge.BlockedID, edge.BlockerID)
					switch {
					case errors.Is(err, tasks.ErrCycle):
						if !flagJSON {
							fmt.Printf("  %s would create cycle: %s -> %s\n", ui.Yellow("⏭️  SKIP:"), edge.BlockerID, edge.BlockedID)
						}
						continue
					case err != nil:
						return fmt.Errorf("add %s -> %s: %w", edge.BlockerID, edge.BlockedID, err)
					}
					applied = append(applied, edge)
				}
				if err := e.saveSnapshot(); err != nil {
					return err
				}
			}

			if flagJSON {
				return outputJSON(struct {
					Edges   []claude.DepEdge `json:"edges"`
					Applied []claude.DepEdge `json:"applied,omitempty"`
					Summary string           `json:"summary"`
				}{valid, applied, result.Summary})
			}

			fmt.Printf("\n🔗 Inferred %s dependencies (%d proposed, %d after validation):\n\n",
				ui.Bold(len(valid)), len(result.Edges), len(valid))
			for _, edge := range valid {
				fmt.Printf("  %s → %s  %s\n", ui.BoldMagenta(edge.BlockerID), ui.BoldMagenta(edge.BlockedID), ui.Dim(edge.Reason))
			}
			if result.Summary != "" {
				fmt.Printf("\n%s\n", ui.Dim(result.Summary))
			}
			if flagApply {
				fmt.Printf("\n%s Applied %d edges\n", ui.Green("✓"), len(applied))
			} else if len(valid) > 0 {
				fmt.Printf("\n%s\n", ui.Dim("Dry run. Re-run with --apply to write these edges."))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagApply, "apply", false, "Write inferred deps to the task board (default: dry-run)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Claude model to use (default from config)")
	cmd.Flags().StringVar(&flagFromFile, "from-file", "", "Load inferred deps from a JSON file instead of calling Claude")
	return cmd
}

func digestCmd() *cobra.Command {
	var (
		flagModel string
		flagNoAI  bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Run health checks and print the full report with a Claude summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := startEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			e.svc.Health().RunOnce(ctx)
			snap := e.svc.Snapshot(ctx)
			if flagJSON {
				return outputJSON(snap)
			}
			rep := newReporter(e, &snap)

			prev := color.NoColor
			color.NoColor = true
			plain := rep.PrintSummaryReport(io.Discard)
			color.NoColor = prev
			rep.PrintSummaryReport(os.Stdout)

			if flagNoAI {
				return nil
			}
			model := flagModel
			if model == "" {
				model = e.cfg.Claude.Model
			}
			client, err := claude.NewClient("", model)
			if err != nil {
				return err
			}
			digest, err := client.Digest(ctx, plain)
			if err != nil {
				return fmt.Errorf("digest: %w", err)
			}
			fmt.Printf("\n%s\n%s\n", ui.BoldCyan("🤖 Digest"), digest)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagModel, "model", "", "Claude model to use (default from config)")
	cmd.Flags().BoolVar(&flagNoAI, "no-claude", false, "Skip the Claude summary")
	return cmd
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
