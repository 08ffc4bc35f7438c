package cli

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glidru/ipeds-pipeline/extract"
)

var (
	extractTable   string
	extractOutDir  string
	extractInclude string
	extractExclude string
	extractUpload  bool
)

var yearInFilename = regexp.MustCompile(`IPEDS(\d{4})`)

var extractCmd = &cobra.Command{
	Use:   "extract <database-file>",
	Short: "Extract tables from an IPEDS Access database to Parquet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := resolvePath(args[0])

		extractor, err := extract.New(cfg, logger)
		if err != nil {
			return err
		}

		if extractTable != "" {
			outputPath := ""
			if extractOutDir != "" {
				outputPath = filepath.Join(extractOutDir, extractTable+".parquet")
			}
			meta, err := extractor.ExtractTable(cmd.Context(), dbPath, extractTable, outputPath)
			if err != nil {
				return fmt.Errorf("extract failed: %w", err)
			}
			fmt.Printf("Extracted %s: %d rows, %d columns, %d bytes\n",
				meta.TableName, meta.RowCount, meta.ColumnCount, meta.ParquetSizeBytes)
			return nil
		}

		outputDir := extractOutDir
		manifest, err := extractor.ExtractAllTables(cmd.Context(), dbPath, extractInclude, extractExclude, outputDir)
		if err != nil {
			return fmt.Errorf("extract failed: %w", err)
		}

		fmt.Printf("Extraction complete: %d extracted, %d failed, %d skipped (%.1fs)\n",
			manifest.ExtractedTables, len(manifest.FailedTables),
			len(manifest.SkippedTables), manifest.TotalDurationSeconds)
		for _, w := range manifest.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}

		if extractUpload {
			if outputDir == "" {
				return fmt.Errorf("--upload requires --output-dir")
			}
			match := yearInFilename.FindStringSubmatch(dbPath)
			if match == nil {
				fmt.Println("Cannot determine year from filename, skipping lake upload")
				return nil
			}
			year, _ := strconv.Atoi(match[1])
			uri, err := extractor.UploadToLake(store, year, outputDir, manifest)
			if err != nil {
				return err
			}
			fmt.Printf("Manifest stored at %s\n", uri)
		}
		return nil
	},
}

var listTablesCmd = &cobra.Command{
	Use:   "list-tables <database-file>",
	Short: "List the tables in an IPEDS Access database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extractor, err := extract.New(cfg, logger)
		if err != nil {
			return err
		}

		tables, err := extractor.ListTables(cmd.Context(), resolvePath(args[0]))
		if err != nil {
			return err
		}

		fmt.Printf("Found %d tables:\n", len(tables))
		for _, t := range tables {
			fmt.Printf("  %s\n", t)
		}
		return nil
	},
}

// resolvePath maps lake:// keys onto their backing files; anything else is
// a local path.
func resolvePath(arg string) string {
	if strings.HasPrefix(arg, "lake://") {
		return store.LocalPath(strings.TrimPrefix(arg, "lake://"))
	}
	return arg
}

func init() {
	extractCmd.Flags().StringVarP(&extractTable, "table", "t", "", "extract only this table")
	extractCmd.Flags().StringVarP(&extractOutDir, "output-dir", "o", "", "output directory for Parquet files")
	extractCmd.Flags().StringVarP(&extractInclude, "include", "i", "", "regex of tables to include")
	extractCmd.Flags().StringVarP(&extractExclude, "exclude", "e", "", "regex of tables to exclude")
	extractCmd.Flags().BoolVar(&extractUpload, "upload", false, "upload results to the lake after extraction")
}
