package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// RotateLarge compresses message files larger than maxBytes into per-channel
// zstd archives and replaces them with a stub pointing at the archive, so
// the live file an agent reads stays small. Returns the number of files
// rotated.
func (s *FileStore) RotateLarge(maxBytes int64) (int, error) {
	var rotated int

	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(path) != "messages.md" {
			return nil
		}
		if strings.Contains(path, string(filepath.Separator)+"archive"+string(filepath.Separator)) {
			return nil
		}
		if info.Size() <= maxBytes {
			return nil
		}

		if err := s.rotateFile(path); err != nil {
			s.logger.Error("rotation failed", zap.String("file", path), zap.Error(err))
			return nil // keep walking
		}
		rotated++
		return nil
	})
	if err != nil {
		return rotated, fmt.Errorf("walking data directory: %w", err)
	}
	return rotated, nil
}

func (s *FileStore) rotateFile(path string) error {
	archiveDir := filepath.Join(filepath.Dir(path), "archive")
	if err := os.MkdirAll(archiveDir, 0750); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	archivePath := filepath.Join(archiveDir, fmt.Sprintf("messages-%s.md.zst", stamp))

	if err := compressFile(path, archivePath); err != nil {
		return err
	}

	stub := fmt.Sprintf("# archived\n\nHistory up to %s moved to %s\n",
		stamp, filepath.Join("archive", filepath.Base(archivePath)))
	if err := os.WriteFile(path, []byte(stub), 0600); err != nil {
		return fmt.Errorf("writing stub: %w", err)
	}

	s.logger.Info("rotated message file",
		zap.String("file", path),
		zap.String("archive", archivePath),
	)
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	_, err = io.Copy(enc, in)
	if closeErr := enc.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compressing: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming archive: %w", err)
	}
	return nil
}
