// Package extract converts tables from Microsoft Access databases into
// compressed Parquet files using the mdbtools utilities as an external
// conversion boundary.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
)

var (
	// ErrToolUnavailable is returned at construction when mdbtools is
	// missing or broken. Fatal: nothing else in this package can work.
	ErrToolUnavailable = errors.New("mdbtools unavailable")

	// ErrTableNotFound is returned when a requested table is absent from
	// the database file.
	ErrTableNotFound = errors.New("table not found")

	// ErrConversionFailed is returned when mdb-export fails or produces
	// unusable output for a table.
	ErrConversionFailed = errors.New("conversion failed")
)

// typeSampleRows bounds how many rows of the first chunk feed type inference.
const typeSampleRows = 1000

// Extractor converts Access tables to Parquet. Construction probes the
// external tool so a broken installation fails fast instead of at first use.
type Extractor struct {
	compression string
	chunkRows   int
	maxBytes    int64
	tempDir     string
	logger      *logging.ComponentLogger
}

// New creates an Extractor, verifying that mdbtools is installed and
// functional.
func New(cfg *config.Config, logger *logging.ComponentLogger) (*Extractor, error) {
	out, err := exec.Command("mdb-ver").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: mdb-ver probe failed: %v", ErrToolUnavailable, err)
	}

	logger.Debug().
		Str("mdbtools_version", strings.TrimSpace(string(out))).
		Msg("mdbtools probe succeeded")

	return &Extractor{
		compression: cfg.Extractor.Compression,
		chunkRows:   cfg.Extractor.ChunkRows,
		maxBytes:    int64(cfg.Extractor.MaxTableSizeGB * float64(1<<30)),
		tempDir:     cfg.Lake.TempDir,
		logger:      logger,
	}, nil
}

// ListTables enumerates the tables in the Access file at path.
func (e *Extractor) ListTables(ctx context.Context, path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file not found: %w", err)
	}

	out, err := exec.CommandContext(ctx, "mdb-tables", "-1", path).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables from %s: %w", path, err)
	}

	var tables []string
	for _, line := range strings.Split(string(out), "\n") {
		if t := strings.TrimSpace(line); t != "" {
			tables = append(tables, t)
		}
	}

	e.logger.Info().
		Int("tables", len(tables)).
		Str("file", filepath.Base(path)).
		Msg("Listed tables")

	return tables, nil
}

// ExtractTable converts one table to a Parquet file at outputPath (a default
// under the temp dir when empty) and returns its metadata.
func (e *Extractor) ExtractTable(ctx context.Context, path, tableName, outputPath string) (*Metadata, error) {
	tables, err := e.ListTables(ctx, path)
	if err != nil {
		return nil, err
	}
	if !containsTable(tables, tableName) {
		return nil, fmt.Errorf("%w: %q in %s", ErrTableNotFound, tableName, path)
	}

	return e.extractKnownTable(ctx, path, tableName, outputPath)
}

// extractKnownTable converts a table already confirmed to exist. The batch
// path goes through here so one run lists tables exactly once.
func (e *Extractor) extractKnownTable(ctx context.Context, path, tableName, outputPath string) (*Metadata, error) {
	start := time.Now()

	if outputPath == "" {
		dir := filepath.Join(e.tempDir, "extraction")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create extraction dir: %w", err)
		}
		outputPath = filepath.Join(dir, tableName+".parquet")
	} else if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	meta, err := e.exportTable(ctx, path, tableName, outputPath)
	if err != nil {
		return nil, err
	}

	meta.DurationSeconds = time.Since(start).Seconds()
	e.logger.LogExtraction(tableName, meta.RowCount, meta.ColumnCount, time.Since(start))

	return meta, nil
}

// exportTable streams mdb-export output through the CSV reader into a
// chunked Parquet writer.
func (e *Extractor) exportTable(ctx context.Context, path, tableName, outputPath string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, "mdb-export", path, tableName)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}

	meta, convErr := e.convertStream(stdout, path, tableName, outputPath)
	if convErr != nil {
		// mdb-export may be blocked writing into the full pipe; stop it and
		// drain so Wait cannot deadlock.
		cmd.Process.Kill()
		io.Copy(io.Discard, stdout)
		cmd.Wait()
		return nil, convErr
	}

	if waitErr := cmd.Wait(); waitErr != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("%w: mdb-export %q: %v: %s", ErrConversionFailed, tableName, waitErr, strings.TrimSpace(stderr.String()))
	}

	return meta, nil
}

// convertStream parses the CSV stream in bounded-size chunks. Column types
// are inferred from a sample of the first chunk with a fixed mapping; the
// schema is then locked for the rest of the table.
func (e *Extractor) convertStream(r io.Reader, sourcePath, tableName, outputPath string) (*Metadata, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: table %q produced no output", ErrConversionFailed, tableName)
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = cleanColumnName(h)
	}

	// First chunk doubles as the inference sample.
	first, err := e.readChunk(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: table %q: %v", ErrConversionFailed, tableName, err)
	}

	columns := make([]ColumnInfo, len(names))
	for i, name := range names {
		samples := columnSample(first, i, typeSampleRows)
		columns[i] = ColumnInfo{
			Name:     name,
			DataType: inferColumnType(samples),
			Nullable: true,
		}
	}

	writer, err := newParquetWriter(outputPath, columns, e.compression)
	if err != nil {
		return nil, err
	}

	if err := writer.writeChunk(first); err != nil {
		writer.abort()
		return nil, fmt.Errorf("%w: table %q: %v", ErrConversionFailed, tableName, err)
	}

	for {
		chunk, err := e.readChunk(reader)
		if err != nil {
			writer.abort()
			return nil, fmt.Errorf("%w: table %q: %v", ErrConversionFailed, tableName, err)
		}
		if len(chunk) == 0 {
			break
		}
		if err := writer.writeChunk(chunk); err != nil {
			writer.abort()
			return nil, fmt.Errorf("%w: table %q: %v", ErrConversionFailed, tableName, err)
		}
	}

	size, err := writer.close()
	if err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("%w: table %q: %v", ErrConversionFailed, tableName, err)
	}
	if e.maxBytes > 0 && size > e.maxBytes {
		os.Remove(outputPath)
		return nil, fmt.Errorf("%w: table %q exceeds size cap (%d bytes)", ErrConversionFailed, tableName, size)
	}

	return &Metadata{
		SourceFile:          sourcePath,
		TableName:           tableName,
		ExtractionTimestamp: time.Now().UTC(),
		RowCount:            writer.rows,
		ColumnCount:         len(columns),
		Columns:             columns,
		ParquetSizeBytes:    size,
	}, nil
}

// readChunk reads up to chunkRows records, returning an empty slice at EOF.
func (e *Extractor) readChunk(reader *csv.Reader) ([][]string, error) {
	chunk := make([][]string, 0, e.chunkRows)
	for len(chunk) < e.chunkRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, record)
	}
	return chunk, nil
}

// ExtractAllTables extracts every table selected by the include/exclude
// patterns (include applied first). A single table's failure is recorded as
// a warning and does not abort the run; only a fatal condition (unreadable
// archive) does.
func (e *Extractor) ExtractAllTables(ctx context.Context, path, includePattern, excludePattern, outputDir string) (*Manifest, error) {
	start := time.Now()

	allTables, err := e.ListTables(ctx, path)
	if err != nil {
		return nil, err
	}

	var include, exclude *regexp.Regexp
	if includePattern != "" {
		if include, err = regexp.Compile(includePattern); err != nil {
			return nil, fmt.Errorf("invalid include pattern: %w", err)
		}
	}
	if excludePattern != "" {
		if exclude, err = regexp.Compile(excludePattern); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
	}

	var selected, skipped []string
	for _, table := range allTables {
		if include != nil && !include.MatchString(table) {
			skipped = append(skipped, table)
			continue
		}
		if exclude != nil && exclude.MatchString(table) {
			skipped = append(skipped, table)
			continue
		}
		selected = append(selected, table)
	}

	if outputDir == "" {
		outputDir = filepath.Join(e.tempDir, "extraction", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	e.logger.Info().
		Int("selected", len(selected)).
		Int("skipped", len(skipped)).
		Msg("Starting table extraction")

	manifest := &Manifest{
		RunID:               uuid.NewString(),
		SourceFile:          path,
		ExtractionTimestamp: time.Now().UTC(),
		TotalTables:         len(allTables),
		SkippedTables:       skipped,
	}

	for _, table := range selected {
		outputPath := filepath.Join(outputDir, table+".parquet")
		meta, err := e.extractKnownTable(ctx, path, table, outputPath)
		if err != nil {
			e.logger.Warn().
				Str("table", table).
				Err(err).
				Msg("Table extraction failed, continuing")
			manifest.FailedTables = append(manifest.FailedTables, table)
			manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("table %q: %v", table, err))
			continue
		}
		manifest.TableMetadata = append(manifest.TableMetadata, *meta)
	}

	manifest.ExtractedTables = len(manifest.TableMetadata)
	manifest.TotalDurationSeconds = time.Since(start).Seconds()

	e.logger.Info().
		Int("extracted", manifest.ExtractedTables).
		Int("failed", len(manifest.FailedTables)).
		Int("skipped", len(manifest.SkippedTables)).
		Dur("duration", time.Since(start)).
		Msg("Extraction complete")

	return manifest, nil
}

// UploadToLake copies extracted Parquet files and the manifest into the lake
// under the year's extraction prefix, updating each table's LakePath. The
// manifest object is written last so it only ever references stored tables.
func (e *Extractor) UploadToLake(store *lake.Store, year int, localDir string, manifest *Manifest) (string, error) {
	for i := range manifest.TableMetadata {
		meta := &manifest.TableMetadata[i]
		localPath := filepath.Join(localDir, meta.TableName+".parquet")
		uri, err := store.Put(localPath, lake.TableKey(year, meta.TableName))
		if err != nil {
			return "", fmt.Errorf("failed to store table %q: %w", meta.TableName, err)
		}
		meta.LakePath = uri
	}

	uri, err := store.PutJSON(lake.ManifestKey(year), manifest)
	if err != nil {
		return "", fmt.Errorf("failed to store extraction manifest: %w", err)
	}

	e.logger.Info().
		Int("tables", len(manifest.TableMetadata)).
		Str("manifest", uri).
		Msg("Uploaded extraction results")

	return uri, nil
}

func containsTable(tables []string, name string) bool {
	for _, t := range tables {
		if t == name {
			return true
		}
	}
	return false
}

// columnSample collects up to limit non-empty values from one column.
func columnSample(rows [][]string, col, limit int) []string {
	var samples []string
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		if strings.TrimSpace(row[col]) == "" {
			continue
		}
		samples = append(samples, row[col])
		if len(samples) >= limit {
			break
		}
	}
	return samples
}
