package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/glidru/ipeds-pipeline/download"
)

var (
	downloadVersion string
	downloadForce   bool
	downloadSHA256  string
)

var downloadCmd = &cobra.Command{
	Use:   "download <year>",
	Short: "Download the IPEDS archive for a year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := parseYear(args[0])
		if err != nil {
			return err
		}

		d := download.New(cfg, store, logger)
		meta, err := d.Download(cmd.Context(), year, downloadVersion, download.Options{
			Force:          downloadForce,
			ExpectedSHA256: downloadSHA256,
		})
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}

		if meta.FromCache {
			fmt.Printf("Archive already present: %s (use --force to re-download)\n", meta.LakePath)
			return nil
		}

		fmt.Printf("Downloaded %s\n", meta.Filename)
		fmt.Printf("  Size:     %d bytes\n", meta.FileSizeBytes)
		fmt.Printf("  SHA-256:  %s\n", meta.ChecksumSHA256)
		fmt.Printf("  Duration: %.1fs\n", meta.DurationSeconds)
		fmt.Printf("  Stored:   %s\n", meta.LakePath)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadVersion, "version", "v", "final", "data version: final, provisional, or revised")
	downloadCmd.Flags().BoolVarP(&downloadForce, "force", "f", false, "re-download even if the archive exists in the lake")
	downloadCmd.Flags().StringVar(&downloadSHA256, "sha256", "", "expected SHA-256 of the archive content")
}

func parseYear(arg string) (int, error) {
	year, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", arg)
	}
	if year < 2000 || year > cfg.Source.DefaultYear {
		return 0, fmt.Errorf("year must be between 2000 and %d", cfg.Source.DefaultYear)
	}
	return year, nil
}
