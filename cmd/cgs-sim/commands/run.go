package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/observability"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome/feed"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome/sqlitestore"
	"github.com/signalsfoundry/cgs-simulator/internal/scenario"
	"github.com/signalsfoundry/cgs-simulator/internal/sim"
	"github.com/signalsfoundry/cgs-simulator/model"
	"github.com/signalsfoundry/cgs-simulator/timectrl"
)

type runOptions struct {
	until       float64
	journal     string
	sqlite      string
	metricsAddr string
	realtime    bool
	speed       float64
	asJSON      bool
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a simulation",
		Long: `Run a simulation

Loads a scenario (.json, .yaml or .hcl), runs it to the end of its
duration or --until, and prints the outcome summary. Outcome events can
be written to a JSON-lines journal (zstd-compressed when the path ends
in .zst), to SQLite, and to websocket subscribers of /feed.`,

		Example: `  # Run to the end of the scenario
  cgs-sim run scenario.yaml

  # Stop after one hour and keep a compressed journal
  cgs-sim run scenario.hcl --until 3600 --journal out/events.jsonl.zst

  # Watch a paced run live
  cgs-sim run scenario.json --realtime --speed 60 --metrics-addr :9090`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("journal") {
				a.cfg.JournalPath = opts.journal
			}
			if flags.Changed("sqlite") {
				a.cfg.SQLitePath = opts.sqlite
			}
			if flags.Changed("metrics-addr") {
				a.cfg.MetricsAddr = opts.metricsAddr
			}
			if opts.realtime {
				a.cfg.Mode = timectrl.RealTime
			}
			if flags.Changed("speed") {
				a.cfg.Speed = opts.speed
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return runScenario(cmd, a, args[0], opts)
		},
	}

	cmd.Flags().Float64Var(&opts.until, "until", 0, "Stop after this many simulated seconds (default: scenario duration)")
	cmd.Flags().StringVar(&opts.journal, "journal", "", "Write outcome events as JSON lines (.zst compresses)")
	cmd.Flags().StringVar(&opts.sqlite, "sqlite", "", "Write outcome events to a SQLite database")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and the /feed websocket on this address")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "Pace the run against the wall clock")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "Simulated seconds per wall second with --realtime")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the report as JSON")

	return cmd
}

func runScenario(cmd *cobra.Command, a *app, path string, opts runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := a.log

	if a.cfg.Tracing.Output == nil {
		a.cfg.Tracing.Output = cmd.ErrOrStderr()
	}
	shutdownTracing, err := observability.InitTracing(ctx, a.cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	s, err := loadScenario(path)
	if err != nil {
		return err
	}

	engineOpts := []sim.Option{
		sim.WithLogger(log),
		sim.WithTracer(observability.Tracer("github.com/signalsfoundry/cgs-simulator/cmd/cgs-sim")),
	}

	if a.cfg.JournalPath != "" {
		jw, err := outcome.CreateJournal(a.cfg.JournalPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := jw.Close(); err != nil {
				log.Warn(ctx, "journal close failed", logging.Err(err))
			}
		}()
		engineOpts = append(engineOpts, sim.WithRecorder(jw))
	}

	if a.cfg.SQLitePath != "" {
		store, err := sqlitestore.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		engineOpts = append(engineOpts, sim.WithRecorder(store))
	}

	if a.cfg.MetricsAddr != "" {
		collector, err := observability.NewSimCollector(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		hub := feed.NewHub(log)
		srv := serveHTTP(a.cfg.MetricsAddr, collector, hub, log)
		defer func() {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		engineOpts = append(engineOpts, sim.WithMetrics(collector), sim.WithRecorder(hub))
	}

	if a.cfg.Mode == timectrl.RealTime {
		engineOpts = append(engineOpts, sim.WithPacer(timectrl.NewPacer(timectrl.RealTime, a.cfg.Speed)))
	}

	engine, err := sim.NewFromScenario(s, engineOpts...)
	if err != nil {
		return err
	}

	until := s.End()
	if opts.until > 0 {
		until = s.Epoch.Add(time.Duration(opts.until * float64(time.Second)))
	}

	report, runErr := engine.Run(ctx, until)
	if errors.Is(runErr, context.Canceled) {
		log.Warn(ctx, "run interrupted", logging.Time("at", engine.Now()))
		runErr = nil
	}
	if report != nil {
		if err := printReport(cmd.OutOrStdout(), s, report, opts.asJSON); err != nil {
			return err
		}
	}
	return runErr
}

func printReport(w io.Writer, s *scenario.Scenario, r *sim.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	st := r.Stats
	fmt.Fprintf(w, "Run %s  (%s %s → %s)\n\n", r.RunID, s.Name, offset(s, r.Start), offset(s, r.End))
	fmt.Fprintf(w, "Requests\n")
	fmt.Fprintf(w, "  submitted:  %d\n", st.Requests)
	fmt.Fprintf(w, "  accepted:   %d\n", st.Accepted)
	fmt.Fprintf(w, "  rejected:   %d\n", st.Rejected)
	fmt.Fprintf(w, "\nBundles\n")
	fmt.Fprintf(w, "  acquired:   %d\n", st.Acquired)
	fmt.Fprintf(w, "  forwarded:  %d\n", st.Forwarded)
	fmt.Fprintf(w, "  delivered:  %d  (%.1f%% of accepted)\n", st.Delivered, st.DeliveryRatio*100)
	fmt.Fprintf(w, "  dropped:    %d\n", st.Dropped)
	fmt.Fprintf(w, "  deferred:   %d\n", st.Deferred)
	fmt.Fprintf(w, "  rerouted:   %d\n", st.Rerouted)
	if st.Delivered > 0 {
		fmt.Fprintf(w, "\nLatency\n")
		fmt.Fprintf(w, "  mean %s  p50 %s  p95 %s  max %s\n", st.MeanLatency, st.P50Latency, st.P95Latency, st.MaxLatency)
	}
	if len(st.Reasons) > 0 {
		reasons := make([]model.Reason, 0, len(st.Reasons))
		for reason := range st.Reasons {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		fmt.Fprintf(w, "\nReasons\n")
		for _, reason := range reasons {
			fmt.Fprintf(w, "  %-24s %d\n", reason, st.Reasons[reason])
		}
	}
	if st.Refused > 0 {
		fmt.Fprintf(w, "\nContacts refused: %d\n", st.Refused)
	}
	return nil
}
