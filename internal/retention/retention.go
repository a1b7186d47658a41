// Package retention rotates the raw book snapshot logs: partitions older
// than the uncompressed window are gzipped in place, and compressed
// partitions past the retention horizon are deleted. Recency is judged by
// file modification time, so a partition still receiving appends is never
// touched.
package retention

import (
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CompressOlderThan gzips every .jsonl file under root whose mtime is before
// cutoff, then removes the original. Files with an existing .gz sibling are
// skipped. Returns the number of files compressed.
func CompressOlderThan(root string, cutoff time.Time) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	compressed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		gzPath := path + ".gz"
		if _, err := os.Stat(gzPath); err == nil {
			return nil
		}

		if err := compressFile(path, gzPath); err != nil {
			log.Error().Str("file", path).Err(err).Msg("compression failed")
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s after compression: %w", path, err)
		}
		compressed++
		log.Info().Str("file", path).Msg("partition compressed")
		return nil
	})
	return compressed, err
}

// DeleteCompressedOlderThan removes every .jsonl.gz file under root whose
// mtime is before cutoff. Returns the number of files deleted.
func DeleteCompressedOlderThan(root string, cutoff time.Time) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	deleted := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl.gz") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
		deleted++
		log.Info().Str("file", path).Msg("expired partition deleted")
		return nil
	})
	return deleted, err
}

// compressFile writes a gzip copy of src at dst. A partial dst is removed on
// failure so a retry starts clean.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
