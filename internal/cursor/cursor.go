// Package cursor persists the durable processing position of each derived
// stream. A cursor is advanced only after the corresponding output has been
// flushed; a crash between flush and save means the same input is reprocessed
// on the next run, which the deduplicating sink makes harmless.
package cursor

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

// Cursor is the common position marker embedded by every per-stream state
// struct: the ordering key of the last input consumed.
type Cursor struct {
	LastTimestampUTC string `json:"last_timestamp_utc"`
	LastTradeID      string `json:"last_trade_id"`
}

// Key returns the cursor position as an ordering key.
func (c Cursor) Key() model.OrderKey {
	return model.OrderKey{TimestampUTC: c.LastTimestampUTC, TradeID: c.LastTradeID}
}

// Advance moves the cursor to key. Positions never move backwards; an
// out-of-order key is ignored.
func (c *Cursor) Advance(key model.OrderKey) {
	if key.After(c.Key()) {
		c.LastTimestampUTC = key.TimestampUTC
		c.LastTradeID = key.TradeID
	}
}

// Store reads and writes per-(instrument, stream[, timeframe]) state files
// under a single state root.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Key identifies one state file.
type Key struct {
	InstID    string
	Timeframe string // optional
}

func (s *Store) path(k Key) string {
	name := k.InstID
	if k.Timeframe != "" {
		name += "." + k.Timeframe
	}
	return filepath.Join(s.root, name+".state.json")
}

// Load fills state from the persisted file. A missing file is not an error:
// state is left at its zero value, the initial cursor position. A present but
// unreadable or corrupt file is a setup-fatal error for the caller.
func (s *Store) Load(k Key, state any) error {
	data, err := os.ReadFile(s.path(k))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading state %s: %w", s.path(k), err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return fmt.Errorf("corrupt state %s: %w", s.path(k), err)
	}
	return nil
}

// Save writes state atomically: the document goes to a temp file in the same
// directory and is renamed into place, so a partially written cursor is never
// observable.
func (s *Store) Save(k Key, state any) error {
	path := s.path(k)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
