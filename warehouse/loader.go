// Package warehouse loads extracted Parquet files into DuckDB staging
// tables. Staging tables hold only the most recently loaded year's rows for
// a given source table; the year travels as a column, never in the name.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/extract"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
	"github.com/glidru/ipeds-pipeline/metrics"
)

var (
	// ErrSchemaIncompatible is returned when a Parquet file's schema cannot
	// map to valid warehouse column types.
	ErrSchemaIncompatible = errors.New("schema incompatible")

	// ErrLoadFailed wraps a warehouse-reported failure for one table.
	ErrLoadFailed = errors.New("load failed")

	// ErrManifestNotFound is returned when the extraction manifest required
	// by a load run is missing. Fatal for that run.
	ErrManifestNotFound = errors.New("manifest not found")
)

// Write modes for a table load.
const (
	WriteReplace = "replace"
	WriteAppend  = "append"
)

// Metadata describes one loaded table.
type Metadata struct {
	TableName       string    `json:"table_name"`
	TargetYear      int       `json:"target_year"`
	SourceFile      string    `json:"source_file"`
	RowsLoaded      int64     `json:"rows_loaded"`
	LoadTimestamp   time.Time `json:"load_timestamp"`
	DurationSeconds float64   `json:"load_duration_seconds"`
}

// Manifest describes one load run. TotalRows is the sum of RowsLoaded over
// Tables; failed tables contribute zero and appear in FailedTables.
type Manifest struct {
	RunID                string     `json:"run_id"`
	TargetYear           int        `json:"target_year"`
	Tables               []Metadata `json:"tables"`
	FailedTables         []string   `json:"failed_tables"`
	Warnings             []string   `json:"warnings"`
	TotalRows            int64      `json:"total_rows"`
	TotalDurationSeconds float64    `json:"total_duration_seconds"`
	ManifestPath         string     `json:"manifest_path,omitempty"`
}

// Loader writes Parquet files into DuckDB staging tables.
type Loader struct {
	db         *sql.DB
	schema     string
	writeMode  string
	numWorkers int
	store      *lake.Store
	logger     *logging.ComponentLogger
	metrics    *metrics.Metrics
}

// NewLoader opens the DuckDB staging database and ensures the staging
// schema exists.
func NewLoader(cfg *config.Config, store *lake.Store, logger *logging.ComponentLogger, m *metrics.Metrics) (*Loader, error) {
	if dir := filepath.Dir(cfg.Warehouse.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create warehouse dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", cfg.Warehouse.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping warehouse database: %w", err)
	}

	if _, err := db.Exec(createSchemaSQL(cfg.Warehouse.StagingSchema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create staging schema: %w", err)
	}

	return &Loader{
		db:         db,
		schema:     cfg.Warehouse.StagingSchema,
		writeMode:  cfg.Warehouse.WriteDisposition,
		numWorkers: cfg.Warehouse.NumWorkers,
		store:      store,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Close releases the warehouse connection.
func (l *Loader) Close() error {
	return l.db.Close()
}

// LoadTable loads one Parquet file into the staging table for tableName,
// tagging every row with year and a load timestamp. writeMode "" uses the
// configured default; "replace" fully replaces prior contents, "append"
// adds to them.
func (l *Loader) LoadTable(ctx context.Context, filePath string, year int, tableName, writeMode string) (*Metadata, error) {
	start := time.Now()

	if writeMode == "" {
		writeMode = l.writeMode
	}

	if err := l.validateSchema(filePath); err != nil {
		return nil, err
	}

	switch writeMode {
	case WriteReplace:
		if _, err := l.db.ExecContext(ctx, replaceSQL(l.schema, tableName, filePath, year)); err != nil {
			return nil, fmt.Errorf("%w: table %q: %v", ErrLoadFailed, tableName, err)
		}
	case WriteAppend:
		if _, err := l.db.ExecContext(ctx, createIfNeededSQL(l.schema, tableName, filePath, year)); err != nil {
			return nil, fmt.Errorf("%w: table %q: %v", ErrLoadFailed, tableName, err)
		}
		if _, err := l.db.ExecContext(ctx, appendSQL(l.schema, tableName, filePath, year)); err != nil {
			return nil, fmt.Errorf("%w: table %q: %v", ErrLoadFailed, tableName, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown write mode %q", ErrLoadFailed, writeMode)
	}

	var rows int64
	if err := l.db.QueryRowContext(ctx, sourceCountSQL(filePath)).Scan(&rows); err != nil {
		return nil, fmt.Errorf("%w: table %q: %v", ErrLoadFailed, tableName, err)
	}

	l.logger.LogLoad(tableName, year, rows, time.Since(start))
	if l.metrics != nil {
		l.metrics.RecordRowsLoaded(stagingTableName(tableName), rows)
	}

	return &Metadata{
		TableName:       stagingTableName(tableName),
		TargetYear:      year,
		SourceFile:      filePath,
		RowsLoaded:      rows,
		LoadTimestamp:   time.Now().UTC(),
		DurationSeconds: time.Since(start).Seconds(),
	}, nil
}

// validateSchema confirms every column of the Parquet file maps to a
// warehouse type before any SQL touches the staging table.
func (l *Loader) validateSchema(filePath string) error {
	f, err := file.OpenParquetFile(filePath, false)
	if err != nil {
		return fmt.Errorf("%w: cannot read %s: %v", ErrSchemaIncompatible, filePath, err)
	}
	defer f.Close()

	reader, err := pqarrow.NewFileReader(f, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaIncompatible, filePath, err)
	}

	schema, err := reader.Schema()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaIncompatible, filePath, err)
	}

	for _, field := range schema.Fields() {
		if !supportedArrowType(field.Type) {
			return fmt.Errorf("%w: column %q has unsupported type %s", ErrSchemaIncompatible, field.Name, field.Type)
		}
	}
	return nil
}

// supportedArrowType reports whether an Arrow type has a staging column
// mapping. Nested types do not.
func supportedArrowType(t arrow.DataType) bool {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64,
		arrow.BOOL,
		arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64,
		arrow.DECIMAL128,
		arrow.STRING, arrow.LARGE_STRING:
		return true
	default:
		return false
	}
}

// loadJob is one table load handed to the worker pool.
type loadJob struct {
	tableName string
	filePath  string
}

// loadResult carries a finished table load back to the aggregator.
type loadResult struct {
	tableName string
	meta      *Metadata
	err       error
}

// LoadFromManifest loads every table listed in the extraction manifest at
// manifestPath. Individual failures are recorded and do not stop the
// remaining tables; parallel loads run across tables on a bounded worker
// pool, never within one table.
func (l *Loader) LoadFromManifest(ctx context.Context, manifestPath string, year int, parallel bool) (*Manifest, error) {
	start := time.Now()

	if manifestPath == "" {
		manifestPath = l.store.LocalPath(lake.ManifestKey(year))
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, manifestPath)
	}

	var extraction extract.Manifest
	if err := json.Unmarshal(data, &extraction); err != nil {
		return nil, fmt.Errorf("%w: unreadable manifest %s: %v", ErrManifestNotFound, manifestPath, err)
	}

	jobs := make([]loadJob, 0, len(extraction.TableMetadata))
	for _, meta := range extraction.TableMetadata {
		jobs = append(jobs, loadJob{
			tableName: meta.TableName,
			filePath:  l.resolveTablePath(manifestPath, year, meta),
		})
	}

	workers := 1
	if parallel && l.numWorkers > 1 {
		workers = l.numWorkers
	}

	results := l.runPool(ctx, jobs, year, workers)

	manifest := &Manifest{
		RunID:      uuid.NewString(),
		TargetYear: year,
	}
	for _, res := range results {
		if res.err != nil {
			l.logger.Warn().
				Str("table", res.tableName).
				Err(res.err).
				Msg("Table load failed, continuing")
			manifest.FailedTables = append(manifest.FailedTables, res.tableName)
			manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("table %q: %v", res.tableName, res.err))
			continue
		}
		manifest.Tables = append(manifest.Tables, *res.meta)
		manifest.TotalRows += res.meta.RowsLoaded
	}
	manifest.TotalDurationSeconds = time.Since(start).Seconds()

	l.logger.Info().
		Int("loaded", len(manifest.Tables)).
		Int("failed", len(manifest.FailedTables)).
		Int64("total_rows", manifest.TotalRows).
		Dur("duration", time.Since(start)).
		Msg("Load run complete")

	return manifest, nil
}

// resolveTablePath locates a table's Parquet file: lake keys resolve through
// the store, anything else falls back to a sibling of the manifest.
func (l *Loader) resolveTablePath(manifestPath string, year int, meta extract.Metadata) string {
	if strings.HasPrefix(meta.LakePath, "lake://") {
		return l.store.LocalPath(strings.TrimPrefix(meta.LakePath, "lake://"))
	}
	if key := lake.TableKey(year, meta.TableName); l.store.Exists(key) {
		return l.store.LocalPath(key)
	}
	return filepath.Join(filepath.Dir(manifestPath), meta.TableName+".parquet")
}

// runPool fans jobs out to a bounded set of workers and gathers every
// result. Each job touches an independent file and destination table, so
// workers share nothing but the channels.
func (l *Loader) runPool(ctx context.Context, jobs []loadJob, year, workers int) []loadResult {
	input := make(chan loadJob, len(jobs))
	output := make(chan loadResult, len(jobs))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for job := range input {
				meta, err := l.LoadTable(ctx, job.filePath, year, job.tableName, "")
				output <- loadResult{tableName: stagingTableName(job.tableName), meta: meta, err: err}
			}
		}()
	}

	for _, job := range jobs {
		input <- job
	}
	close(input)
	wg.Wait()
	close(output)

	results := make([]loadResult, 0, len(jobs))
	for res := range output {
		results = append(results, res)
	}
	return results
}
