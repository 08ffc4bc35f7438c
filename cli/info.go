package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the effective configuration and check component access",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("ipeds-pipeline %s\n\n", version)
		fmt.Printf("Source\n")
		fmt.Printf("  base_url:       %s\n", cfg.Source.BaseURL)
		fmt.Printf("  default_year:   %d\n", cfg.Source.DefaultYear)
		fmt.Printf("Lake\n")
		fmt.Printf("  bucket_path:    %s\n", cfg.Lake.BucketPath)
		fmt.Printf("Warehouse\n")
		fmt.Printf("  database_path:  %s\n", cfg.Warehouse.DatabasePath)
		fmt.Printf("  staging_schema: %s\n", cfg.Warehouse.StagingSchema)
		fmt.Printf("  write_mode:     %s\n", cfg.Warehouse.WriteDisposition)
		fmt.Printf("Transform\n")
		fmt.Printf("  project_dir:    %s\n", cfg.Transform.ProjectDir)
		fmt.Println()

		fmt.Printf("Lake access:      %s\n", checkMark(checkLake()))
		fmt.Printf("Warehouse access: %s\n", checkMark(checkWarehouse()))
		return nil
	},
}

func checkLake() error {
	_, err := store.PutJSON("info/access_check.json", map[string]string{"status": "ok"})
	return err
}

func checkWarehouse() error {
	db, err := sql.Open("duckdb", cfg.Warehouse.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}

func checkMark(err error) string {
	if err != nil {
		return fmt.Sprintf("FAILED (%v)", err)
	}
	return "ok"
}
