// Package sink appends derived records to time-partitioned JSONL logs with
// natural-key deduplication, making every write idempotent: re-emitting a
// record that already exists in its partition is a no-op.
//
// Dedup layering: when a partition is first touched the existing file is
// scanned once and its keys seed an in-memory cache, so reruns over already
// written input skip cleanly. The cache is bounded; past the bound the oldest
// half is evicted and dedup beyond it is best-effort. The authoritative guard
// against long-range duplicates is the caller's cursor, which keeps re-reads
// of old input rare and short.
package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

const (
	// maxCachedKeys bounds the per-partition dedup cache.
	maxCachedKeys = 10000
)

// Partition maps a record timestamp to a partition file path relative to the
// writer root. The boundary is a pure function of the record's own timestamp.
type Partition func(tsUTC string) (string, error)

// Daily partitions one file per UTC day.
func Daily(tsUTC string) (string, error) {
	t, err := model.ParseTime(tsUTC)
	if err != nil {
		return "", err
	}
	return t.UTC().Format("2006-01-02") + ".jsonl", nil
}

// Hourly partitions one file per UTC hour inside a daily directory.
func Hourly(tsUTC string) (string, error) {
	t, err := model.ParseTime(tsUTC)
	if err != nil {
		return "", err
	}
	return filepath.Join(t.UTC().Format("2006-01-02"), t.UTC().Format("15")+".jsonl"), nil
}

// Single keeps every record in one named file regardless of timestamp.
func Single(name string) Partition {
	return func(string) (string, error) { return name, nil }
}

// Writer appends records for one (instrument, stream) under a root directory.
// It is not safe for concurrent use; each processing run owns its writer.
type Writer struct {
	dir       string
	partition Partition
	keyFields []string

	open map[string]*partitionLog

	written int
	skipped int
}

type partitionLog struct {
	file *os.File
	keys *keyCache
}

// NewWriter returns a writer rooted at dir. keyFields name the JSON fields
// whose values, joined with "|", form a record's natural key.
func NewWriter(dir string, partition Partition, keyFields ...string) *Writer {
	return &Writer{
		dir:       dir,
		partition: partition,
		keyFields: keyFields,
		open:      make(map[string]*partitionLog),
	}
}

// Write appends record to the partition derived from tsUTC unless a record
// with the same natural key is already present. It reports whether the record
// was written.
func (w *Writer) Write(tsUTC string, record any) (bool, error) {
	rel, err := w.partition(tsUTC)
	if err != nil {
		return false, fmt.Errorf("partitioning record: %w", err)
	}
	path := filepath.Join(w.dir, rel)

	p, err := w.openPartition(path)
	if err != nil {
		return false, err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encoding record: %w", err)
	}
	key, err := w.extractKey(data)
	if err != nil {
		return false, err
	}

	if p.keys.contains(key) {
		w.skipped++
		return false, nil
	}

	if _, err := p.file.Write(append(data, '\n')); err != nil {
		return false, fmt.Errorf("appending to %s: %w", path, err)
	}

	p.keys.add(key)
	w.written++
	return true, nil
}

// Written is the number of records appended since construction.
func (w *Writer) Written() int { return w.written }

// Skipped is the number of duplicate records suppressed since construction.
func (w *Writer) Skipped() int { return w.skipped }

// Flush syncs every open partition file to stable storage. Callers must flush
// before advancing their cursor.
func (w *Writer) Flush() error {
	for path, p := range w.open {
		if err := p.file.Sync(); err != nil {
			return fmt.Errorf("syncing %s: %w", path, err)
		}
	}
	return nil
}

// Close flushes and closes all open partitions.
func (w *Writer) Close() error {
	err := w.Flush()
	for _, p := range w.open {
		if cerr := p.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	w.open = make(map[string]*partitionLog)
	return err
}

func (w *Writer) openPartition(path string) (*partitionLog, error) {
	if p, ok := w.open[path]; ok {
		return p, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating partition dir: %w", err)
	}

	keys := newKeyCache(maxCachedKeys)
	if err := w.scanExistingKeys(path, keys); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening partition %s: %w", path, err)
	}

	p := &partitionLog{file: f, keys: keys}
	w.open[path] = p
	return p, nil
}

// scanExistingKeys performs the cold-start pass over an existing partition,
// seeding the dedup cache with the keys already on disk. Malformed lines are
// skipped: they cannot collide with a well-formed key.
func (w *Writer) scanExistingKeys(path string, keys *keyCache) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scanning partition %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, err := w.extractKey([]byte(line))
		if err != nil {
			log.Warn().Str("partition", path).Err(err).Msg("unreadable line in partition scan")
			continue
		}
		keys.add(key)
	}
	return scanner.Err()
}

func (w *Writer) extractKey(data []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("decoding record fields: %w", err)
	}

	parts := make([]string, 0, len(w.keyFields))
	for _, name := range w.keyFields {
		raw, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("record missing key field %q", name)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Non-string key component, keep its raw JSON form.
			s = string(raw)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|"), nil
}

// keyCache is a bounded insertion-ordered set. When the bound is exceeded the
// oldest half is evicted, so recent keys always stay resident.
type keyCache struct {
	max   int
	set   map[string]struct{}
	order []string
}

func newKeyCache(max int) *keyCache {
	return &keyCache{max: max, set: make(map[string]struct{})}
}

func (c *keyCache) contains(key string) bool {
	_, ok := c.set[key]
	return ok
}

func (c *keyCache) add(key string) {
	if _, ok := c.set[key]; ok {
		return
	}
	if len(c.order) >= c.max {
		half := c.max / 2
		for _, old := range c.order[:half] {
			delete(c.set, old)
		}
		c.order = append(c.order[:0], c.order[half:]...)
	}
	c.set[key] = struct{}{}
	c.order = append(c.order, key)
}

// PartitionFor exposes the partition path a timestamp maps to, used by
// retention and tests.
func (w *Writer) PartitionFor(tsUTC string) (string, error) {
	rel, err := w.partition(tsUTC)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dir, rel), nil
}
