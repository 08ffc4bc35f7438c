package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
)

func testSetup(t *testing.T, baseURL string) (*Downloader, *lake.Store) {
	t.Helper()

	var cfg config.Config
	cfg.Source.BaseURL = baseURL
	cfg.Source.ProvisionalSuffix = "_pv"
	cfg.Source.RevisedSuffix = "_rv"
	cfg.Downloader.RetryAttempts = 3
	cfg.Downloader.RetryDelaySeconds = 0 // no backoff in tests
	cfg.Downloader.TimeoutSeconds = 10
	cfg.Lake.TempDir = t.TempDir()

	logger := logging.NewComponentLogger("download-test", "test")
	store, err := lake.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return New(&cfg, store, logger), store
}

func TestFilename(t *testing.T) {
	d, _ := testSetup(t, "https://example.com")

	cases := []struct {
		version, want string
	}{
		{"final", "IPEDS2023.zip"},
		{"", "IPEDS2023.zip"},
		{"provisional", "IPEDS2023_pv.zip"},
		{"revised", "IPEDS2023_rv.zip"},
		{"Provisional", "IPEDS2023_pv.zip"},
	}
	for _, tc := range cases {
		if got := d.Filename(2023, tc.version); got != tc.want {
			t.Errorf("Filename(2023, %q) = %q, want %q", tc.version, got, tc.want)
		}
	}
}

func TestBuildURL(t *testing.T) {
	d, _ := testSetup(t, "https://nces.ed.gov/ipeds/tablefiles/zipfiles/")

	want := "https://nces.ed.gov/ipeds/tablefiles/zipfiles/IPEDS2023.zip"
	if got := d.BuildURL(2023, "final"); got != want {
		t.Errorf("BuildURL = %q, want %q", got, want)
	}
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	body := []byte("zip archive content")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	d, store := testSetup(t, srv.URL)
	meta, err := d.Download(context.Background(), 2023, "final", Options{})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
	if meta.FileSizeBytes != int64(len(body)) {
		t.Errorf("expected %d bytes, got %d", len(body), meta.FileSizeBytes)
	}
	if meta.FromCache {
		t.Error("fresh download reported as cached")
	}
	if meta.HTTPStatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", meta.HTTPStatusCode)
	}

	if !store.Exists(lake.ArchiveKey(2023, "IPEDS2023.zip")) {
		t.Error("archive not stored in lake")
	}
	var stored Metadata
	if err := store.GetJSON(lake.DownloadMetadataKey(2023), &stored); err != nil {
		t.Fatalf("download metadata not stored: %v", err)
	}
	if stored.ChecksumSHA256 != meta.ChecksumSHA256 {
		t.Error("stored metadata checksum mismatch")
	}
}

func TestDownloadGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d, _ := testSetup(t, srv.URL)
	_, err := d.Download(context.Background(), 2023, "final", Options{})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestDownloadSkipsExistingArchive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	d, store := testSetup(t, srv.URL)

	local := filepath.Join(t.TempDir(), "IPEDS2023.zip")
	if err := os.WriteFile(local, []byte("prior archive"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(local, lake.ArchiveKey(2023, "IPEDS2023.zip")); err != nil {
		t.Fatal(err)
	}
	prior := &Metadata{Filename: "IPEDS2023.zip", Year: 2023, ChecksumSHA256: "abc"}
	if _, err := store.PutJSON(lake.DownloadMetadataKey(2023), prior); err != nil {
		t.Fatal(err)
	}

	meta, err := d.Download(context.Background(), 2023, "final", Options{})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no network activity, server saw %d requests", hits.Load())
	}
	if !meta.FromCache {
		t.Error("expected cache hit")
	}
	if meta.ChecksumSHA256 != "abc" {
		t.Errorf("expected stored metadata, got %+v", meta)
	}
}

func TestDownloadCacheHitIgnoresOtherVersionMetadata(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	d, store := testSetup(t, srv.URL)

	// The final archive is present, but the year's metadata object was last
	// written by a provisional download.
	local := filepath.Join(t.TempDir(), "IPEDS2023.zip")
	if err := os.WriteFile(local, []byte("final archive"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(local, lake.ArchiveKey(2023, "IPEDS2023.zip")); err != nil {
		t.Fatal(err)
	}
	other := &Metadata{Filename: "IPEDS2023_pv.zip", Year: 2023, Version: "provisional", ChecksumSHA256: "abc"}
	if _, err := store.PutJSON(lake.DownloadMetadataKey(2023), other); err != nil {
		t.Fatal(err)
	}

	meta, err := d.Download(context.Background(), 2023, "final", Options{})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no network activity, server saw %d requests", hits.Load())
	}
	if !meta.FromCache {
		t.Error("expected cache hit")
	}
	if meta.Filename != "IPEDS2023.zip" || meta.Version != "final" {
		t.Errorf("metadata describes the wrong archive: %+v", meta)
	}
	if meta.ChecksumSHA256 == "abc" {
		t.Error("checksum taken from the other version's record")
	}
	if meta.FileSizeBytes != int64(len("final archive")) {
		t.Errorf("expected observed size, got %d", meta.FileSizeBytes)
	}
}

func TestDownloadForceBypassesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("fresh content"))
	}))
	defer srv.Close()

	d, store := testSetup(t, srv.URL)

	local := filepath.Join(t.TempDir(), "IPEDS2023.zip")
	if err := os.WriteFile(local, []byte("prior archive"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(local, lake.ArchiveKey(2023, "IPEDS2023.zip")); err != nil {
		t.Fatal(err)
	}

	meta, err := d.Download(context.Background(), 2023, "final", Options{Force: true})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
	if meta.FromCache {
		t.Error("forced download reported as cached")
	}

	size, err := store.Size(lake.ArchiveKey(2023, "IPEDS2023.zip"))
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("fresh content")) {
		t.Errorf("archive not replaced, size %d", size)
	}
}

func TestDownloadChecksumMismatchNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	d, store := testSetup(t, srv.URL)
	_, err := d.Download(context.Background(), 2023, "final", Options{
		ExpectedSHA256: "deadbeef",
	})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("checksum mismatch retried: %d requests", hits.Load())
	}
	if store.Exists(lake.ArchiveKey(2023, "IPEDS2023.zip")) {
		t.Error("mismatched archive must not reach the lake")
	}
}

func TestDownloadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	d, _ := testSetup(t, srv.URL)
	_, err := d.Download(context.Background(), 2023, "final", Options{})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestDownloadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, _ := testSetup(t, "http://127.0.0.1:0")
	_, err := d.Download(ctx, 2023, "final", Options{})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
