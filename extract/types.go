package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ColumnInfo describes one column of an extracted table.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// Metadata describes one extracted table.
type Metadata struct {
	SourceFile          string       `json:"source_file"`
	TableName           string       `json:"table_name"`
	ExtractionTimestamp time.Time    `json:"extraction_timestamp"`
	RowCount            int64        `json:"row_count"`
	ColumnCount         int          `json:"column_count"`
	Columns             []ColumnInfo `json:"columns"`
	ParquetSizeBytes    int64        `json:"parquet_size_bytes"`
	LakePath            string       `json:"lake_path"`
	DurationSeconds     float64      `json:"extraction_duration_seconds"`
}

// Manifest describes one extraction run over a single Access database. It is
// the write-once hand-off contract between the extractor and the loader.
type Manifest struct {
	RunID                string     `json:"run_id"`
	SourceFile           string     `json:"source_file"`
	ExtractionTimestamp  time.Time  `json:"extraction_timestamp"`
	TotalTables          int        `json:"total_tables"`
	ExtractedTables      int        `json:"extracted_tables"`
	SkippedTables        []string   `json:"skipped_tables"`
	FailedTables         []string   `json:"failed_tables"`
	Warnings             []string   `json:"warnings"`
	TableMetadata        []Metadata `json:"table_metadata"`
	TotalDurationSeconds float64    `json:"total_duration_seconds"`
}

// Column data types produced by the fixed inference mapping.
const (
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeDecimal   = "decimal"
	TypeString    = "string"
)

var (
	intPattern      = regexp.MustCompile(`^-?\d+$`)
	floatPattern    = regexp.MustCompile(`^-?\d*\.\d+([eE][+-]?\d+)?$`)
	currencyPattern = regexp.MustCompile(`^\$-?[\d,]+(\.\d{1,4})?$`)
	nonWordPattern  = regexp.MustCompile(`[^\w]+`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// timestampLayouts are the date/time shapes mdb-export emits, plus the ISO
// forms seen in older IPEDS files.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/06 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// cleanColumnName makes a raw Access column name Parquet-friendly:
// non-word characters collapse to single underscores.
func cleanColumnName(name string) string {
	cleaned := nonWordPattern.ReplaceAllString(name, "_")
	cleaned = underscoreRuns.ReplaceAllString(cleaned, "_")
	return strings.Trim(cleaned, "_")
}

// inferType maps a single value onto the fixed type set.
func inferType(value string) string {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return TypeString
	case intPattern.MatchString(v):
		return TypeInteger
	case currencyPattern.MatchString(v):
		return TypeDecimal
	case floatPattern.MatchString(v):
		return TypeFloat
	case isBoolLiteral(v):
		return TypeBoolean
	case parseTimestamp(v) != nil:
		return TypeTimestamp
	default:
		return TypeString
	}
}

// inferColumnType reduces a sample of values to one column type. Mixed
// samples degrade along integer -> decimal/float -> string; anything
// inconsistent falls back to string (no length cap).
func inferColumnType(samples []string) string {
	inferred := ""
	for _, s := range samples {
		if strings.TrimSpace(s) == "" {
			continue
		}
		t := inferType(s)
		switch {
		case inferred == "" || inferred == t:
			inferred = t
		case inferred == TypeInteger && t == TypeFloat, inferred == TypeFloat && t == TypeInteger:
			inferred = TypeFloat
		case inferred == TypeInteger && t == TypeDecimal, inferred == TypeDecimal && t == TypeInteger:
			inferred = TypeDecimal
		default:
			return TypeString
		}
	}
	if inferred == "" {
		return TypeString
	}
	return inferred
}

func isBoolLiteral(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	}
	return false
}

// parseTimestamp returns the parsed time for a recognized layout, or nil.
func parseTimestamp(v string) *time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

// parseBool accepts the boolean literals mdb-export produces.
func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// normalizeCurrency strips the currency marker and grouping commas so the
// remainder parses as a plain decimal.
func normalizeCurrency(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "$")
	return strings.ReplaceAll(v, ",", "")
}

func parseInt(v string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return n, err == nil
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil
}
