// Package download fetches yearly IPEDS Access archives from NCES and
// persists them, with metadata, to the data lake.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/lake"
	"github.com/glidru/ipeds-pipeline/logging"
)

var (
	// ErrSourceUnavailable is returned when the remote keeps answering with a
	// non-success status after all retry attempts.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrChecksumMismatch is returned when the downloaded content does not
	// match the expected checksum. Never retried.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNetwork is returned for transport-level failures after all retry
	// attempts.
	ErrNetwork = errors.New("network error")
)

// Metadata describes one successfully downloaded archive. Immutable once
// written; persisted next to the archive in the lake.
type Metadata struct {
	Filename          string    `json:"filename"`
	SourceURL         string    `json:"source_url"`
	DownloadTimestamp time.Time `json:"download_timestamp"`
	FileSizeBytes     int64     `json:"file_size_bytes"`
	ChecksumSHA256    string    `json:"checksum_sha256"`
	Year              int       `json:"year"`
	Version           string    `json:"version"`
	LakePath          string    `json:"lake_path"`
	DurationSeconds   float64   `json:"download_duration_seconds"`
	HTTPStatusCode    int       `json:"http_status_code"`

	// FromCache is set when an existing valid artifact short-circuited the
	// download. Not persisted.
	FromCache bool `json:"-"`
}

// Options adjusts a single Download call.
type Options struct {
	// Force bypasses the existence short-circuit and re-downloads.
	Force bool

	// ExpectedSHA256, when non-empty, is compared against the checksum of
	// the written bytes. A mismatch fails the call without retry.
	ExpectedSHA256 string
}

// Downloader fetches IPEDS archives over HTTP with bounded retries.
type Downloader struct {
	baseURL           string
	provisionalSuffix string
	revisedSuffix     string
	maxAttempts       int
	baseDelay         time.Duration
	tempDir           string

	client *http.Client
	store  *lake.Store
	logger *logging.ComponentLogger
}

// New creates a Downloader from the loaded configuration.
func New(cfg *config.Config, store *lake.Store, logger *logging.ComponentLogger) *Downloader {
	return &Downloader{
		baseURL:           strings.TrimRight(cfg.Source.BaseURL, "/"),
		provisionalSuffix: cfg.Source.ProvisionalSuffix,
		revisedSuffix:     cfg.Source.RevisedSuffix,
		maxAttempts:       cfg.Downloader.RetryAttempts,
		baseDelay:         time.Duration(cfg.Downloader.RetryDelaySeconds) * time.Second,
		tempDir:           cfg.Lake.TempDir,
		client: &http.Client{
			Timeout: time.Duration(cfg.Downloader.TimeoutSeconds) * time.Second,
		},
		store:  store,
		logger: logger,
	}
}

// Filename returns the archive filename for a year and version.
func (d *Downloader) Filename(year int, version string) string {
	suffix := ""
	switch strings.ToLower(version) {
	case "provisional":
		suffix = d.provisionalSuffix
	case "revised":
		suffix = d.revisedSuffix
	}
	return fmt.Sprintf("IPEDS%d%s.zip", year, suffix)
}

// BuildURL returns the remote URL for a year and version.
func (d *Downloader) BuildURL(year int, version string) string {
	u, err := url.JoinPath(d.baseURL, d.Filename(year, version))
	if err != nil {
		return d.baseURL + "/" + d.Filename(year, version)
	}
	return u
}

// Download fetches the archive for year/version and persists it plus its
// metadata to the lake. When a valid prior artifact exists at the
// destination and opts.Force is false, the call returns the stored metadata
// without any network activity.
func (d *Downloader) Download(ctx context.Context, year int, version string, opts Options) (*Metadata, error) {
	filename := d.Filename(year, version)
	archiveKey := lake.ArchiveKey(year, filename)
	metadataKey := lake.DownloadMetadataKey(year)

	if !opts.Force && d.store.Exists(archiveKey) {
		d.logger.Info().
			Str("key", archiveKey).
			Msg("Archive already present, skipping download")

		// The per-year metadata object is shared across versions, so it may
		// describe a different archive than the one requested.
		var meta Metadata
		if err := d.store.GetJSON(metadataKey, &meta); err != nil || meta.Filename != filename {
			// No trustworthy record: report what we can observe.
			size, sizeErr := d.store.Size(archiveKey)
			if sizeErr != nil {
				return nil, sizeErr
			}
			meta = Metadata{
				Filename:      filename,
				Year:          year,
				Version:       version,
				FileSizeBytes: size,
				LakePath:      d.store.URI(archiveKey),
			}
		}
		meta.FromCache = true
		return &meta, nil
	}

	sourceURL := d.BuildURL(year, version)
	start := time.Now()

	localPath, checksum, size, status, attempts, err := d.fetchWithRetry(ctx, sourceURL, filename)
	if err != nil {
		return nil, err
	}
	defer os.Remove(localPath)

	if opts.ExpectedSHA256 != "" && !strings.EqualFold(opts.ExpectedSHA256, checksum) {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrChecksumMismatch, checksum, opts.ExpectedSHA256)
	}

	lakePath, err := d.store.Put(localPath, archiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to store archive: %w", err)
	}

	meta := &Metadata{
		Filename:          filename,
		SourceURL:         sourceURL,
		DownloadTimestamp: time.Now().UTC(),
		FileSizeBytes:     size,
		ChecksumSHA256:    checksum,
		Year:              year,
		Version:           version,
		LakePath:          lakePath,
		DurationSeconds:   time.Since(start).Seconds(),
		HTTPStatusCode:    status,
	}

	if _, err := d.store.PutJSON(metadataKey, meta); err != nil {
		return nil, fmt.Errorf("failed to store download metadata: %w", err)
	}

	d.logger.LogDownload(sourceURL, size, attempts, time.Since(start))

	return meta, nil
}

// fetchWithRetry retrieves the URL into a temp file, retrying transient
// failures with exponential backoff (base delay doubled per attempt). The
// content checksum is computed incrementally while streaming; the temp file
// is renamed into place only after the body is fully written.
func (d *Downloader) fetchWithRetry(ctx context.Context, sourceURL, filename string) (path, checksum string, size int64, status, attempts int, err error) {
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", "", 0, 0, attempt - 1, ctx.Err()
		default:
		}

		path, checksum, size, status, lastErr = d.fetchOnce(ctx, sourceURL, filename)
		if lastErr == nil {
			return path, checksum, size, status, attempt, nil
		}

		if errors.Is(lastErr, ErrChecksumMismatch) || errors.Is(lastErr, context.Canceled) {
			return "", "", 0, 0, attempt, lastErr
		}

		if attempt >= d.maxAttempts {
			break
		}

		delay := d.baseDelay * (1 << uint(attempt-1))
		d.logger.Warn().
			Str("url", sourceURL).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(lastErr).
			Msg("Download attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", "", 0, 0, attempt, ctx.Err()
		}
	}

	d.logger.Error().
		Str("url", sourceURL).
		Int("attempts", d.maxAttempts).
		Err(lastErr).
		Msg("Download failed after max attempts")

	return "", "", 0, 0, d.maxAttempts, fmt.Errorf("download failed after %d attempts: %w", d.maxAttempts, lastErr)
}

// fetchOnce performs a single retrieval attempt. The payload is streamed to
// a .partial file and never held in memory.
func (d *Downloader) fetchOnce(ctx context.Context, sourceURL, filename string) (path, checksum string, size int64, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", "", 0, resp.StatusCode, fmt.Errorf("%w: status %d from %s", ErrSourceUnavailable, resp.StatusCode, sourceURL)
	}

	if err := os.MkdirAll(d.tempDir, 0755); err != nil {
		return "", "", 0, 0, fmt.Errorf("failed to create temp dir: %w", err)
	}

	partial := filepath.Join(d.tempDir, filename+".partial")
	out, err := os.Create(partial)
	if err != nil {
		return "", "", 0, 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return "", "", 0, resp.StatusCode, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	final := filepath.Join(d.tempDir, filename)
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return "", "", 0, resp.StatusCode, fmt.Errorf("failed to finalize download: %w", err)
	}

	return final, hex.EncodeToString(hasher.Sum(nil)), written, resp.StatusCode, nil
}
