package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/cgs-simulator/internal/scenario"
)

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Check a scenario and its contact plan",
		Long: `Check a scenario and its contact plan

Loads the scenario, resolves every node, target and contact plan
reference, and builds the contact plan, reporting the first problem.`,

		Example: `  cgs-sim validate scenario.hcl`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			plan, err := s.Plan()
			if err != nil {
				return fmt.Errorf("contact plan: %w", err)
			}
			if _, err := s.KnowledgeBase(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			name := s.Name
			if name == "" {
				name = args[0]
			}
			fmt.Fprintf(w, "Scenario %q is valid\n", name)
			fmt.Fprintf(w, "  epoch:      %s\n", s.Epoch.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Fprintf(w, "  duration:   %s\n", s.Duration)
			fmt.Fprintf(w, "  nodes:      %d\n", len(s.Nodes))
			fmt.Fprintf(w, "  locations:  %d\n", len(s.Locations))
			fmt.Fprintf(w, "  contacts:   %d\n", plan.Len())
			fmt.Fprintf(w, "  windows:    %d\n", len(s.Windows))
			fmt.Fprintf(w, "  requests:   %d\n", len(s.Requests))

			capacity := s.DownloadCapacity(plan)
			fmt.Fprintf(w, "  downlink:   %d bytes\n", capacity)
			if g := s.Generator; g != nil {
				mean := g.MeanInterArrival
				if mean <= 0 {
					mean, err = scenario.InterArrivalFromCongestion(s.Duration, capacity, s.Params.BundleSize, g.Congestion)
					if err != nil {
						return fmt.Errorf("generator: %w", err)
					}
				}
				fmt.Fprintf(w, "  generator:  mean inter-arrival %s\n", mean)
			}
			a.log.Debug(cmd.Context(), "scenario validated")
			return nil
		},
	}
	return cmd
}
