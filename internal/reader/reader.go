// Package reader streams records back out of JSONL partitions for incremental
// processing. Every read is cursor-relative: callers pass the position of the
// last record they have durably handled and receive only strictly newer ones.
// Partitions compressed by retention are read transparently.
package reader

import (
	"bufio"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// Stats summarizes one read pass for run logging.
type Stats struct {
	Files     int
	Lines     int
	Malformed int
	Filtered  int
}

// ReadTrades returns every trade under dir strictly after the given order key,
// sorted by (timestamp, trade id). Exact duplicates of an already seen order
// key within the pass are dropped.
func ReadTrades(dir string, after model.OrderKey) ([]model.Trade, Stats, error) {
	var (
		trades []model.Trade
		stats  Stats
	)

	err := forEachLine(dir, &stats, func(path string, line []byte) {
		var tr model.Trade
		if err := json.Unmarshal(line, &tr); err != nil {
			stats.Malformed++
			log.Warn().Str("file", path).Err(err).Msg("skipping malformed trade line")
			return
		}
		if tr.TimestampUTC == "" || tr.TradeID == "" {
			stats.Malformed++
			log.Warn().Str("file", path).Msg("skipping trade line without timestamp or trade id")
			return
		}
		key := tr.Key()
		if !key.After(after) {
			stats.Filtered++
			return
		}
		trades = append(trades, tr)
	})
	if err != nil {
		return nil, stats, err
	}

	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Key().Compare(trades[j].Key()) < 0
	})

	// Replays can land the same trade in more than one partition pass; after
	// sorting, equal neighbours collapse to the first occurrence.
	deduped := trades[:0]
	var last model.OrderKey
	for _, tr := range trades {
		key := tr.Key()
		if !last.IsZero() && key.Compare(last) == 0 {
			stats.Filtered++
			continue
		}
		deduped = append(deduped, tr)
		last = key
	}
	return deduped, stats, nil
}

// ReadCandles returns candles under dir whose window start is strictly after
// afterWindowStart, sorted by window start. An empty afterWindowStart reads
// everything.
func ReadCandles(dir string, afterWindowStart string) ([]model.Candle, Stats, error) {
	var (
		candles []model.Candle
		stats   Stats
	)

	err := forEachLine(dir, &stats, func(path string, line []byte) {
		var c model.Candle
		if err := json.Unmarshal(line, &c); err != nil {
			stats.Malformed++
			log.Warn().Str("file", path).Err(err).Msg("skipping malformed candle line")
			return
		}
		if c.WindowStartUTC == "" {
			stats.Malformed++
			log.Warn().Str("file", path).Msg("skipping candle line without window start")
			return
		}
		if afterWindowStart != "" && c.WindowStartUTC <= afterWindowStart {
			stats.Filtered++
			return
		}
		candles = append(candles, c)
	})
	if err != nil {
		return nil, stats, err
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].WindowStartUTC < candles[j].WindowStartUTC
	})
	return candles, stats, nil
}

// ReadSnapshots returns order book snapshots under dir strictly after
// afterTimestamp, sorted by capture timestamp.
func ReadSnapshots(dir string, afterTimestamp string) ([]model.BookSnapshot, Stats, error) {
	var (
		snaps []model.BookSnapshot
		stats Stats
	)

	err := forEachLine(dir, &stats, func(path string, line []byte) {
		var s model.BookSnapshot
		if err := json.Unmarshal(line, &s); err != nil {
			stats.Malformed++
			log.Warn().Str("file", path).Err(err).Msg("skipping malformed snapshot line")
			return
		}
		if s.TimestampUTC == "" {
			stats.Malformed++
			log.Warn().Str("file", path).Msg("skipping snapshot line without timestamp")
			return
		}
		if afterTimestamp != "" && s.TimestampUTC <= afterTimestamp {
			stats.Filtered++
			return
		}
		snaps = append(snaps, s)
	})
	if err != nil {
		return nil, stats, err
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].TimestampUTC < snaps[j].TimestampUTC
	})
	return snaps, stats, nil
}

// forEachLine walks every partition file under dir in lexical (chronological)
// order and hands each non-blank line to fn. Missing dirs read as empty.
func forEachLine(dir string, stats *Stats, fn func(path string, line []byte)) error {
	files, err := partitionFiles(dir)
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := readFile(path, stats, fn); err != nil {
			return err
		}
		stats.Files++
	}
	return nil
}

func partitionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") || strings.HasSuffix(path, ".jsonl.gz") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func readFile(path string, stats *Stats, fn func(path string, line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Lines++
		fn(path, []byte(line))
	}
	return scanner.Err()
}
