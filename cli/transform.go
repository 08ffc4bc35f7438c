package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glidru/ipeds-pipeline/transform"
)

var (
	transformSelect      string
	transformFullRefresh bool
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Run dbt transformations against the warehouse",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := transform.New(cfg, logger)
		if err != nil {
			return err
		}

		if err := runner.Run(cmd.Context(), transformSelect, transformFullRefresh); err != nil {
			return fmt.Errorf("transform failed: %w", err)
		}
		fmt.Println("Transform complete")
		return nil
	},
}

func init() {
	transformCmd.Flags().StringVarP(&transformSelect, "select", "s", "", "dbt node selector to run a subset of models")
	transformCmd.Flags().BoolVar(&transformFullRefresh, "full-refresh", false, "rebuild incremental models from scratch")
}
