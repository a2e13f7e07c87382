package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/XinWenfei/netsim/scenario"
	"github.com/XinWenfei/netsim/simulation"
)

func newRoutesCmd(root *rootOptions) *cobra.Command {
	var configPath string

	routesCmd := &cobra.Command{
		Use:   "routes [scenario]",
		Short: "Print the routing table of every node of a scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := loadScenario(args, configPath)
			if err != nil {
				return err
			}

			s, err := simulation.MakeBuilder().WithLogger(root.logger).Build()
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Terminate()) }()

			if _, err := scenario.Build(s, cfg); err != nil {
				return err
			}

			return scenario.WriteRoutes(cmd.OutOrStdout(), s)
		},
	}

	routesCmd.Flags().StringVar(&configPath, "config", "", "YAML scenario file")

	return routesCmd
}
