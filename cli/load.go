package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/warehouse"
)

var (
	loadTableSpec string
	loadManifest  string
	loadParallel  bool
	loadWriteMode string
)

var loadCmd = &cobra.Command{
	Use:   "load <year>",
	Short: "Load extracted Parquet files into staging tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := parseYear(args[0])
		if err != nil {
			return err
		}

		loader, err := warehouse.NewLoader(cfg, store, logger, mtr)
		if err != nil {
			return err
		}
		defer loader.Close()

		if loadTableSpec != "" {
			filePath, tableName, err := splitTableSpec(loadTableSpec)
			if err != nil {
				return err
			}
			meta, err := loader.LoadTable(cmd.Context(), filePath, year, tableName, loadWriteMode)
			if err != nil {
				return fmt.Errorf("load failed: %w", err)
			}
			fmt.Printf("Loaded %s: %d rows (%.1fs)\n", meta.TableName, meta.RowsLoaded, meta.DurationSeconds)
			return nil
		}

		manifest, err := loader.LoadFromManifest(cmd.Context(), loadManifest, year, loadParallel)
		if err != nil {
			return fmt.Errorf("load failed: %w", err)
		}

		if uri, err := store.PutJSON(lake.LoadManifestKey(year), manifest); err == nil {
			manifest.ManifestPath = uri
		}

		fmt.Printf("Load complete: %d tables, %d rows (%.1fs)\n",
			len(manifest.Tables), manifest.TotalRows, manifest.TotalDurationSeconds)
		for _, w := range manifest.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if len(manifest.FailedTables) > 0 {
			return fmt.Errorf("load failed for %d tables: %s",
				len(manifest.FailedTables), strings.Join(manifest.FailedTables, ", "))
		}
		return nil
	},
}

// splitTableSpec parses the --table value, "path/to/file.parquet:table_name".
func splitTableSpec(spec string) (filePath, tableName string, err error) {
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", fmt.Errorf("invalid --table value %q, expected file:table", spec)
	}
	return resolvePath(spec[:idx]), spec[idx+1:], nil
}

func init() {
	loadCmd.Flags().StringVarP(&loadTableSpec, "table", "t", "", "load a single file:table instead of a manifest")
	loadCmd.Flags().StringVarP(&loadManifest, "manifest", "m", "", "path to the extraction manifest (default: the year's lake manifest)")
	loadCmd.Flags().BoolVarP(&loadParallel, "parallel", "p", false, "load tables in parallel")
	loadCmd.Flags().StringVar(&loadWriteMode, "write-mode", "", "write mode: replace or append (default from config)")
}
