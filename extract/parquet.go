package extract

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/decimal128"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

const (
	decimalPrecision = 19
	decimalScale     = 4
)

// arrowType maps an inferred column type onto its Arrow physical type.
func arrowType(dataType string) arrow.DataType {
	switch dataType {
	case TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case TypeDecimal:
		return &arrow.Decimal128Type{Precision: decimalPrecision, Scale: decimalScale}
	default:
		return arrow.BinaryTypes.String
	}
}

// buildSchema builds the Arrow schema for a set of inferred columns. All
// fields are nullable: Access tables carry no reliable NOT NULL information
// through the text export.
func buildSchema(columns []ColumnInfo) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		fields[i] = arrow.Field{
			Name:     col.Name,
			Type:     arrowType(col.DataType),
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil)
}

// parquetWriter streams row chunks into one compressed Parquet file. Peak
// memory stays proportional to the chunk size, not the table size.
type parquetWriter struct {
	path    string
	writer  *pqarrow.FileWriter
	builder *array.RecordBuilder
	schema  *arrow.Schema
	columns []ColumnInfo
	rows    int64
}

func compressionCodec(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}

func newParquetWriter(path string, columns []ColumnInfo, compression string) (*parquetWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	schema := buildSchema(columns)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compressionCodec(compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithCreatedBy("ipeds-pipeline"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	writer, err := pqarrow.NewFileWriter(schema, file, props, arrowProps)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &parquetWriter{
		path:    path,
		writer:  writer,
		builder: array.NewRecordBuilder(memory.DefaultAllocator, schema),
		schema:  schema,
		columns: columns,
	}, nil
}

// writeChunk converts one chunk of CSV rows into an Arrow record and writes
// it. Values that fail coercion to the column type become nulls rather than
// aborting the table.
func (w *parquetWriter) writeChunk(rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	for _, row := range rows {
		for i, col := range w.columns {
			var value string
			if i < len(row) {
				value = row[i]
			}
			w.appendValue(i, col.DataType, value)
		}
	}

	record := w.builder.NewRecord()
	defer record.Release()

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write parquet chunk: %w", err)
	}
	w.rows += int64(len(rows))
	return nil
}

func (w *parquetWriter) appendValue(field int, dataType, value string) {
	builder := w.builder.Field(field)
	if value == "" {
		builder.AppendNull()
		return
	}

	switch dataType {
	case TypeInteger:
		if n, ok := parseInt(value); ok {
			builder.(*array.Int64Builder).Append(n)
			return
		}
	case TypeFloat:
		if f, ok := parseFloat(value); ok {
			builder.(*array.Float64Builder).Append(f)
			return
		}
	case TypeBoolean:
		if b, ok := parseBool(value); ok {
			builder.(*array.BooleanBuilder).Append(b)
			return
		}
	case TypeTimestamp:
		if t := parseTimestamp(value); t != nil {
			builder.(*array.TimestampBuilder).Append(arrow.Timestamp(t.UnixMicro()))
			return
		}
	case TypeDecimal:
		if num, err := decimal128.FromString(normalizeCurrency(value), decimalPrecision, decimalScale); err == nil {
			builder.(*array.Decimal128Builder).Append(num)
			return
		}
	default:
		builder.(*array.StringBuilder).Append(value)
		return
	}

	builder.AppendNull()
}

// close finishes the file and returns its size in bytes.
func (w *parquetWriter) close() (int64, error) {
	w.builder.Release()
	if err := w.writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat parquet file: %w", err)
	}
	return info.Size(), nil
}

// abort discards the partially written file.
func (w *parquetWriter) abort() {
	w.builder.Release()
	w.writer.Close()
	os.Remove(w.path)
}
