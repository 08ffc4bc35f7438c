package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
)

// installStubTools puts fake mdbtools executables on PATH. mdb-export emits
// a small CSV for HD2023 and IC2023 and fails for BROKEN2023.
func installStubTools(t *testing.T) {
	t.Helper()
	binDir := t.TempDir()

	stubs := map[string]string{
		"mdb-ver": `#!/bin/sh
echo "JET4"
`,
		"mdb-tables": `#!/bin/sh
if [ -n "$STUB_CALLS" ]; then
	echo mdb-tables >> "$STUB_CALLS"
fi
printf 'HD2023\nIC2023\nBROKEN2023\n'
`,
		"mdb-export": `#!/bin/sh
table="$2"
case "$table" in
HD2023)
	printf 'UNITID,INSTNM,STABBR\n'
	printf '100654,"Alabama A & M University",AL\n'
	printf '100663,"University of Alabama at Birmingham",AL\n'
	printf '100690,"Amridge University",AL\n'
	;;
IC2023)
	printf 'UNITID,TUITION,PCTENROLL\n'
	printf '100654,"$9,744.00",71.5\n'
	printf '100663,"$8,832.00",63.2\n'
	;;
*)
	echo "mdb-export: no such table $table" >&2
	exit 1
	;;
esac
`,
	}

	for name, body := range stubs {
		path := filepath.Join(binDir, name)
		if err := os.WriteFile(path, []byte(body), 0755); err != nil {
			t.Fatalf("failed to write stub %s: %v", name, err)
		}
	}

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	var cfg config.Config
	cfg.Lake.BucketPath = t.TempDir()
	cfg.Lake.TempDir = t.TempDir()
	cfg.ApplyDefaults()

	e, err := New(&cfg, logging.NewComponentLogger("extract-test", "test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func testDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "IPEDS2023.accdb")
	if err := os.WriteFile(path, []byte("not a real database"), 0644); err != nil {
		t.Fatalf("failed to write database file: %v", err)
	}
	return path
}

func TestNewToolMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	var cfg config.Config
	cfg.ApplyDefaults()
	_, err := New(&cfg, logging.NewComponentLogger("extract-test", "test"))
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
}

func TestListTables(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)

	tables, err := e.ListTables(context.Background(), testDatabase(t))
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	want := []string{"HD2023", "IC2023", "BROKEN2023"}
	if len(tables) != len(want) {
		t.Fatalf("expected %d tables, got %v", len(want), tables)
	}
	for i, w := range want {
		if tables[i] != w {
			t.Errorf("table %d = %q, want %q", i, tables[i], w)
		}
	}
}

func TestListTablesMissingFile(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)

	if _, err := e.ListTables(context.Background(), "/nonexistent/IPEDS2023.accdb"); err == nil {
		t.Fatal("expected error for missing database file")
	}
}

func TestExtractTable(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)

	out := filepath.Join(t.TempDir(), "HD2023.parquet")
	meta, err := e.ExtractTable(context.Background(), testDatabase(t), "HD2023", out)
	if err != nil {
		t.Fatalf("ExtractTable failed: %v", err)
	}

	if meta.RowCount != 3 {
		t.Errorf("expected 3 rows, got %d", meta.RowCount)
	}
	if meta.ColumnCount != 3 {
		t.Errorf("expected 3 columns, got %d", meta.ColumnCount)
	}
	if meta.ParquetSizeBytes <= 0 {
		t.Errorf("expected positive output size, got %d", meta.ParquetSizeBytes)
	}

	byName := map[string]string{}
	for _, c := range meta.Columns {
		byName[c.Name] = c.DataType
	}
	if byName["UNITID"] != TypeInteger {
		t.Errorf("UNITID inferred as %q", byName["UNITID"])
	}
	if byName["INSTNM"] != TypeString {
		t.Errorf("INSTNM inferred as %q", byName["INSTNM"])
	}

	if info, err := os.Stat(out); err != nil || info.Size() != meta.ParquetSizeBytes {
		t.Errorf("output file missing or size mismatch: %v", err)
	}
}

func TestExtractTableNotFound(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)

	_, err := e.ExtractTable(context.Background(), testDatabase(t), "NOSUCH", "")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestExtractAllTablesContinuesPastFailure(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)
	outDir := t.TempDir()

	manifest, err := e.ExtractAllTables(context.Background(), testDatabase(t), "", "", outDir)
	if err != nil {
		t.Fatalf("ExtractAllTables failed: %v", err)
	}

	if manifest.TotalTables != 3 {
		t.Errorf("expected 3 total tables, got %d", manifest.TotalTables)
	}
	if manifest.ExtractedTables != 2 {
		t.Errorf("expected 2 extracted tables, got %d", manifest.ExtractedTables)
	}
	if len(manifest.FailedTables) != 1 || manifest.FailedTables[0] != "BROKEN2023" {
		t.Errorf("expected BROKEN2023 to fail, got %v", manifest.FailedTables)
	}
	if len(manifest.Warnings) != 1 || !strings.Contains(manifest.Warnings[0], "BROKEN2023") {
		t.Errorf("expected a warning naming the failed table, got %v", manifest.Warnings)
	}
	if manifest.RunID == "" {
		t.Error("expected a run ID")
	}

	for _, name := range []string{"HD2023.parquet", "IC2023.parquet"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("expected output file %s: %v", name, err)
		}
	}
}

func TestExtractAllTablesIncludeExclude(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)

	manifest, err := e.ExtractAllTables(context.Background(), testDatabase(t), "^HD", "", t.TempDir())
	if err != nil {
		t.Fatalf("ExtractAllTables failed: %v", err)
	}
	if manifest.ExtractedTables != 1 {
		t.Errorf("include filter: expected 1 extracted, got %d", manifest.ExtractedTables)
	}
	if len(manifest.SkippedTables) != 2 {
		t.Errorf("include filter: expected 2 skipped, got %v", manifest.SkippedTables)
	}

	manifest, err = e.ExtractAllTables(context.Background(), testDatabase(t), "2023$", "BROKEN", t.TempDir())
	if err != nil {
		t.Fatalf("ExtractAllTables failed: %v", err)
	}
	if manifest.ExtractedTables != 2 {
		t.Errorf("exclude filter: expected 2 extracted, got %d", manifest.ExtractedTables)
	}
	if len(manifest.FailedTables) != 0 {
		t.Errorf("exclude filter: expected no failures, got %v", manifest.FailedTables)
	}
}

func TestUploadToLake(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)
	outDir := t.TempDir()

	manifest, err := e.ExtractAllTables(context.Background(), testDatabase(t), "", "BROKEN", outDir)
	if err != nil {
		t.Fatalf("ExtractAllTables failed: %v", err)
	}

	store, err := lake.NewStore(t.TempDir(), logging.NewComponentLogger("lake-test", "test"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	uri, err := e.UploadToLake(store, 2023, outDir, manifest)
	if err != nil {
		t.Fatalf("UploadToLake failed: %v", err)
	}
	if uri != store.URI(lake.ManifestKey(2023)) {
		t.Errorf("unexpected manifest URI %q", uri)
	}

	for _, meta := range manifest.TableMetadata {
		if meta.LakePath != store.URI(lake.TableKey(2023, meta.TableName)) {
			t.Errorf("table %s lake path not updated: %q", meta.TableName, meta.LakePath)
		}
		if !store.Exists(lake.TableKey(2023, meta.TableName)) {
			t.Errorf("table %s not stored in lake", meta.TableName)
		}
	}

	var stored Manifest
	if err := store.GetJSON(lake.ManifestKey(2023), &stored); err != nil {
		t.Fatalf("stored manifest unreadable: %v", err)
	}
	if stored.ExtractedTables != manifest.ExtractedTables {
		t.Errorf("stored manifest lost table count: %d", stored.ExtractedTables)
	}
}

func TestExtractAllTablesListsTablesOnce(t *testing.T) {
	installStubTools(t)
	callLog := filepath.Join(t.TempDir(), "calls")
	t.Setenv("STUB_CALLS", callLog)
	e := testExtractor(t)

	if _, err := e.ExtractAllTables(context.Background(), testDatabase(t), "", "BROKEN", t.TempDir()); err != nil {
		t.Fatalf("ExtractAllTables failed: %v", err)
	}

	data, err := os.ReadFile(callLog)
	if err != nil {
		t.Fatalf("stub recorded no calls: %v", err)
	}
	if calls := strings.Count(string(data), "mdb-tables"); calls != 1 {
		t.Errorf("batch run listed tables %d times, want 1", calls)
	}
}

// TestExtractFailureDoesNotHangOnLargeStream forces the Parquet writer to
// fail while mdb-export still has far more than a pipe buffer left to emit;
// the extraction must fail and move on rather than deadlock on Wait.
func TestExtractFailureDoesNotHangOnLargeStream(t *testing.T) {
	binDir := t.TempDir()
	stubs := map[string]string{
		"mdb-ver": `#!/bin/sh
echo "JET4"
`,
		"mdb-tables": `#!/bin/sh
printf 'BULK2023\n'
`,
		"mdb-export": `#!/bin/sh
printf 'UNITID,VALUE\n'
awk 'BEGIN { for (i = 0; i < 5000; i++) print "1234567890,abcdefghij" }'
`,
	}
	for name, body := range stubs {
		if err := os.WriteFile(filepath.Join(binDir, name), []byte(body), 0755); err != nil {
			t.Fatalf("failed to write stub %s: %v", name, err)
		}
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	var cfg config.Config
	cfg.Lake.TempDir = t.TempDir()
	cfg.ApplyDefaults()
	cfg.Extractor.ChunkRows = 100

	e, err := New(&cfg, logging.NewComponentLogger("extract-test", "test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dbPath := testDatabase(t)
	outDir := t.TempDir()
	// A directory at the output path makes the writer's create fail after
	// the first chunk, with thousands of rows still in flight.
	if err := os.MkdirAll(filepath.Join(outDir, "BULK2023.parquet"), 0755); err != nil {
		t.Fatal(err)
	}

	done := make(chan *Manifest, 1)
	go func() {
		manifest, err := e.ExtractAllTables(context.Background(), dbPath, "", "", outDir)
		if err != nil {
			t.Errorf("ExtractAllTables failed: %v", err)
		}
		done <- manifest
	}()

	select {
	case manifest := <-done:
		if manifest == nil {
			t.Fatal("no manifest returned")
		}
		if len(manifest.FailedTables) != 1 || manifest.FailedTables[0] != "BULK2023" {
			t.Errorf("expected BULK2023 to fail, got %v", manifest.FailedTables)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("extraction hung on a failing table")
	}
}

func TestExtractAllTablesBadPattern(t *testing.T) {
	installStubTools(t)
	e := testExtractor(t)

	if _, err := e.ExtractAllTables(context.Background(), testDatabase(t), "(", "", ""); err == nil {
		t.Fatal("expected error for invalid include pattern")
	}
}
