package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// unpackDatabase extracts the single embedded Access database file from a
// downloaded zip archive into destDir and returns its path.
func unpackDatabase(archivePath, destDir string) (string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create unpack dir: %w", err)
	}

	for _, f := range reader.File {
		name := filepath.Base(f.Name)
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".accdb" && ext != ".mdb" {
			continue
		}

		src, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to read %s from archive: %w", f.Name, err)
		}

		destPath := filepath.Join(destDir, name)
		dst, err := os.Create(destPath)
		if err != nil {
			src.Close()
			return "", fmt.Errorf("failed to create %s: %w", destPath, err)
		}

		_, err = io.Copy(dst, src)
		src.Close()
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(destPath)
			return "", fmt.Errorf("failed to unpack %s: %w", name, err)
		}

		return destPath, nil
	}

	return "", fmt.Errorf("archive %s contains no Access database file", archivePath)
}
