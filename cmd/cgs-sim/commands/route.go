package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/cgs-simulator/internal/cgr"
)

type routeOptions struct {
	from         string
	to           string
	size         int64
	at           float64
	deadline     float64
	congestion   float64
	alternatives int
}

func newRouteCommand(a *app) *cobra.Command {
	var opts routeOptions

	cmd := &cobra.Command{
		Use:   "route <scenario> --from <node> --to <node>",
		Short: "Compute a route over the scenario's contact plan",
		Long: `Compute a route over the scenario's contact plan

Runs contact graph routing once, against the full nominal capacity of
the plan, and prints the hops of the earliest-arrival route. Times are
seconds relative to the scenario epoch.`,

		Example: `  # Earliest delivery of 500 bytes acquired at t=100s
  cgs-sim route scenario.yaml --from sat1 --to gs1 --size 500 --at 100

  # Three routes with distinct first hops under 20% congestion
  cgs-sim route scenario.yaml --from sat1 --to gs1 --congestion 0.2 --alternatives 3`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			plan, err := s.Plan()
			if err != nil {
				return err
			}

			size := opts.size
			if !cmd.Flags().Changed("size") {
				size = s.Params.BundleSize
			}
			departure := s.Epoch.Add(seconds(opts.at))
			deadline := s.End()
			if opts.deadline > 0 {
				deadline = s.Epoch.Add(seconds(opts.deadline))
			}

			router := cgr.NewRouter(plan, cgr.WithLogger(a.log))
			routes, err := router.Alternatives(cmd.Context(), cgr.Query{
				Source:      opts.from,
				Destination: opts.to,
				BundleSize:  size,
				Departure:   departure,
				Deadline:    deadline,
			}, cgr.Options{CongestionFactor: opts.congestion}, opts.alternatives)
			if errors.Is(err, cgr.ErrInfeasibleRoute) {
				return fmt.Errorf("%s -> %s with %d bytes by %s: %w", opts.from, opts.to, size, offset(s, deadline), err)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, route := range routes {
				fmt.Fprintf(w, "Route %d: %s  arrival %s  (%d hops)\n", i+1, route, offset(s, route.Arrival), len(route.Hops))
				for _, h := range route.Hops {
					fmt.Fprintf(w, "  %-12s %s -> %s  depart %s  arrive %s\n",
						h.Contact.ID, h.Contact.From, h.Contact.To, offset(s, h.Departure), offset(s, h.Arrival))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "Source node (required)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Destination node (required)")
	cmd.Flags().Int64Var(&opts.size, "size", 0, "Bundle size in bytes (default: scenario bundle size)")
	cmd.Flags().Float64Var(&opts.at, "at", 0, "Departure time in seconds")
	cmd.Flags().Float64Var(&opts.deadline, "deadline", 0, "Deadline in seconds (default: scenario end)")
	cmd.Flags().Float64Var(&opts.congestion, "congestion", 0, "Congestion factor in [0,1)")
	cmd.Flags().IntVar(&opts.alternatives, "alternatives", 1, "Number of routes with distinct first contacts")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
