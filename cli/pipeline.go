package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glidru/ipeds-pipeline/pipeline"
)

var (
	pipelineVersion string
	pipelineOpts    pipeline.Options
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <year>",
	Short: "Run the full ingestion pipeline for a year",
	Long: `Runs download, extract, load, and transform in order for one year.
Stages run strictly in sequence; the first failure stops the run and the
remaining stages are reported as not attempted. Artifacts written by
completed stages are kept, so a rerun with the matching --skip flags
resumes from the failure point.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := parseYear(args[0])
		if err != nil {
			return err
		}

		stages := pipeline.BuildStages(cfg, store, logger, mtr, year, pipelineVersion)
		coord := pipeline.NewCoordinator(stages, logger, mtr)
		result := coord.Run(cmd.Context(), year, pipelineVersion, pipelineOpts)

		fmt.Printf("Pipeline run %s (year %d, %s)\n", result.RunID, result.Year, result.Version)
		for _, s := range result.Stages {
			if s.Status == pipeline.StatusSuccess || s.Status == pipeline.StatusFailed {
				fmt.Printf("  %-10s %s (%.1fs)\n", s.Stage, s.Status, s.DurationSeconds)
			} else {
				fmt.Printf("  %-10s %s\n", s.Stage, s.Status)
			}
			if s.Error != "" {
				fmt.Printf("             %s\n", s.Error)
			}
		}

		if !result.Success {
			return fmt.Errorf("pipeline failed at stage %q", result.FailedStage())
		}
		return nil
	},
}

func init() {
	pipelineCmd.Flags().StringVarP(&pipelineVersion, "version", "v", "final", "data version: final, provisional, or revised")
	pipelineCmd.Flags().BoolVar(&pipelineOpts.SkipDownload, "skip-download", false, "skip the download stage")
	pipelineCmd.Flags().BoolVar(&pipelineOpts.SkipExtract, "skip-extract", false, "skip the extract stage")
	pipelineCmd.Flags().BoolVar(&pipelineOpts.SkipLoad, "skip-load", false, "skip the load stage")
	pipelineCmd.Flags().BoolVar(&pipelineOpts.SkipTransform, "skip-transform", false, "skip the transform stage")
}
