package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/download"
	"github.com/glidru/ipeds-pipeline/extract"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
	"github.com/glidru/ipeds-pipeline/metrics"
	"github.com/glidru/ipeds-pipeline/transform"
	"github.com/glidru/ipeds-pipeline/warehouse"
)

// BuildStages wires the production stage implementations for one year.
// Components are constructed inside their stage function, so a skipped
// stage never probes its external tool.
func BuildStages(cfg *config.Config, store *lake.Store, logger *logging.ComponentLogger, m *metrics.Metrics, year int, version string) Stages {
	return Stages{
		Download: func(ctx context.Context) error {
			d := download.New(cfg, store, logger)
			meta, err := d.Download(ctx, year, version, download.Options{})
			if err != nil {
				return err
			}
			if m != nil && !meta.FromCache {
				m.RecordDownloadBytes(meta.FileSizeBytes)
			}
			return nil
		},

		Extract: func(ctx context.Context) error {
			extractor, err := extract.New(cfg, logger)
			if err != nil {
				return err
			}

			d := download.New(cfg, store, logger)
			archivePath := store.LocalPath(lake.ArchiveKey(year, d.Filename(year, version)))
			if _, err := os.Stat(archivePath); err != nil {
				return fmt.Errorf("archive for year %d not found, run download first: %w", year, err)
			}

			workDir, err := os.MkdirTemp(cfg.Lake.TempDir, fmt.Sprintf("ipeds-%d-*", year))
			if err != nil {
				return fmt.Errorf("failed to create work dir: %w", err)
			}
			defer os.RemoveAll(workDir)

			dbPath, err := unpackDatabase(archivePath, workDir)
			if err != nil {
				return err
			}

			outputDir := filepath.Join(workDir, "tables")
			manifest, err := extractor.ExtractAllTables(ctx, dbPath, "", "", outputDir)
			if err != nil {
				return err
			}
			if m != nil {
				for range manifest.TableMetadata {
					m.RecordTableExtracted(StatusSuccess)
				}
				for range manifest.FailedTables {
					m.RecordTableExtracted(StatusFailed)
				}
			}

			if _, err := extractor.UploadToLake(store, year, outputDir, manifest); err != nil {
				return err
			}
			return nil
		},

		Load: func(ctx context.Context) error {
			loader, err := warehouse.NewLoader(cfg, store, logger, m)
			if err != nil {
				return err
			}
			defer loader.Close()

			manifest, err := loader.LoadFromManifest(ctx, "", year, true)
			if err != nil {
				return err
			}

			if uri, err := store.PutJSON(lake.LoadManifestKey(year), manifest); err == nil {
				manifest.ManifestPath = uri
			}

			if len(manifest.FailedTables) > 0 {
				return fmt.Errorf("%w: %d of %d tables failed",
					warehouse.ErrLoadFailed, len(manifest.FailedTables),
					len(manifest.Tables)+len(manifest.FailedTables))
			}
			return nil
		},

		Transform: func(ctx context.Context) error {
			runner, err := transform.New(cfg, logger)
			if err != nil {
				return err
			}
			return runner.Run(ctx, "", false)
		},
	}
}
