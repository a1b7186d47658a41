// Package book maintains an in-memory L2 order book from exchange snapshot
// and delta messages, detects sequence gaps, and verifies exchange checksums.
package book

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// ErrNotInitialized is returned when a delta arrives before any snapshot.
var ErrNotInitialized = errors.New("book not initialized")

// checksumDepth is the number of levels per side the exchange hashes.
const checksumDepth = 25

// Book is one instrument's live order book. Price and quantity keep the
// exchange's raw string form: the checksum hashes them exactly as received.
// Safe for concurrent use.
type Book struct {
	mu sync.RWMutex

	instID      string
	bids        map[string]string // price -> qty
	asks        map[string]string
	lastSeqID   *int64
	prevSeqID   *int64
	checksum    *int32
	timestampMs string
	initialized bool
}

// New returns an empty, uninitialized book for one instrument.
func New(instID string) *Book {
	return &Book{
		instID: instID,
		bids:   make(map[string]string),
		asks:   make(map[string]string),
	}
}

// Initialized reports whether the book has absorbed a snapshot since the last
// clear.
func (b *Book) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// ApplySnapshot replaces the book's full state. The message is validated
// before any mutation: a snapshot with a structurally invalid level is
// rejected wholly and the book is left unchanged.
func (b *Book) ApplySnapshot(u model.BookUpdate) error {
	bids, err := levelsToMap(u.Bids)
	if err != nil {
		return fmt.Errorf("invalid snapshot bids: %w", err)
	}
	asks, err := levelsToMap(u.Asks)
	if err != nil {
		return fmt.Errorf("invalid snapshot asks: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = bids
	b.asks = asks
	seq := u.SeqID
	b.lastSeqID = &seq
	b.prevSeqID = copySeq(u.PrevSeqID)
	b.checksum = u.Checksum
	b.timestampMs = u.TimestampMs
	b.initialized = true
	return nil
}

// ApplyDelta merges an incremental update. A level with quantity "0" removes
// that price; any other quantity sets it. Levels with fewer than two elements
// are skipped. Callers must check DetectGap before applying.
func (b *Book) ApplyDelta(u model.BookUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}

	mergeLevels(b.bids, u.Bids)
	mergeLevels(b.asks, u.Asks)
	seq := u.SeqID
	b.lastSeqID = &seq
	b.prevSeqID = copySeq(u.PrevSeqID)
	b.checksum = u.Checksum
	b.timestampMs = u.TimestampMs
	return nil
}

// DetectGap reports whether u does not chain onto the book's last applied
// sequence id. Unknown on either side (fresh book, or message without
// prevSeqId) is not a gap.
func (b *Book) DetectGap(u model.BookUpdate) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastSeqID == nil || u.PrevSeqID == nil {
		return false
	}
	return *u.PrevSeqID != *b.lastSeqID
}

// Clear drops all book state, returning to the uninitialized condition.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]string)
	b.asks = make(map[string]string)
	b.lastSeqID = nil
	b.prevSeqID = nil
	b.checksum = nil
	b.timestampMs = ""
	b.initialized = false
}

// ValidateChecksum recomputes the CRC32 over the top 25 levels per side and
// compares it with the checksum carried by the last applied message. A book
// without a stored checksum validates trivially.
func (b *Book) ValidateChecksum() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.checksum == nil {
		return true
	}

	bids := sortedLevels(b.bids, true)
	asks := sortedLevels(b.asks, false)

	parts := make([]string, 0, 4*checksumDepth)
	for i := 0; i < checksumDepth; i++ {
		if i < len(bids) {
			parts = append(parts, bids[i][0], bids[i][1])
		}
		if i < len(asks) {
			parts = append(parts, asks[i][0], asks[i][1])
		}
	}

	sum := crc32.ChecksumIEEE([]byte(strings.Join(parts, ":")))
	return int32(sum) == *b.checksum
}

// Snapshot projects the current book into a persistable record, truncated to
// depth levels per side. gapDetected is stamped onto the record as given.
func (b *Book) Snapshot(tsUTC string, depth int, gapDetected bool) model.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids := sortedLevels(b.bids, true)
	asks := sortedLevels(b.asks, false)
	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}

	snap := model.BookSnapshot{
		TimestampUTC: tsUTC,
		Exchange:     "okx",
		Market:       "perps",
		Channel:      "books",
		InstID:       b.instID,
		Bids:         bids,
		Asks:         asks,
		Checksum:     b.checksum,
		GapDetected:  gapDetected,
	}
	if b.lastSeqID != nil {
		seq := *b.lastSeqID
		snap.SeqID = &seq
	}
	snap.PrevSeqID = copySeq(b.prevSeqID)

	if len(bids) > 0 {
		best := bids[0][0]
		snap.BestBid = &best
	}
	if len(asks) > 0 {
		best := asks[0][0]
		snap.BestAsk = &best
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		bid, berr := decimal.NewFromString(*snap.BestBid)
		ask, aerr := decimal.NewFromString(*snap.BestAsk)
		if berr == nil && aerr == nil {
			mid := bid.Add(ask).Div(decimal.NewFromInt(2)).String()
			snap.MidPrice = &mid
		}
	}
	return snap
}

func copySeq(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func levelsToMap(levels [][]string) (map[string]string, error) {
	m := make(map[string]string, len(levels))
	for i, lvl := range levels {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("level %d has %d elements", i, len(lvl))
		}
		if isZeroQty(lvl[1]) {
			continue
		}
		m[lvl[0]] = lvl[1]
	}
	return m, nil
}

func mergeLevels(m map[string]string, levels [][]string) {
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		if isZeroQty(lvl[1]) {
			delete(m, lvl[0])
			continue
		}
		m[lvl[0]] = lvl[1]
	}
}

func isZeroQty(qty string) bool {
	d, err := decimal.NewFromString(qty)
	return err == nil && d.IsZero()
}

// sortedLevels returns [price, qty] pairs ordered by numeric price, bids
// descending and asks ascending. Levels whose price fails to parse sort last.
func sortedLevels(m map[string]string, descending bool) [][]string {
	out := make([][]string, 0, len(m))
	for px, qty := range m {
		out = append(out, []string{px, qty})
	}
	sort.Slice(out, func(i, j int) bool {
		pi, ierr := decimal.NewFromString(out[i][0])
		pj, jerr := decimal.NewFromString(out[j][0])
		if ierr != nil || jerr != nil {
			if (ierr == nil) != (jerr == nil) {
				return ierr == nil
			}
			return out[i][0] < out[j][0]
		}
		if descending {
			return pi.GreaterThan(pj)
		}
		return pi.LessThan(pj)
	})
	return out
}
