package vault

import "path/filepath"

// Path helpers for the vault layout. Raw feeds partition under raw/okx, state
// cursors under state/<stream>, derived outputs under derived/<stream>.

// TradesDir is the daily-rotated raw trades partition root for an instrument.
func (c Config) TradesDir(instID string) string {
	return filepath.Join(c.Root, "raw", "okx", "trades_perps", instID)
}

// BooksDir is the hourly-rotated raw book snapshot partition root.
func (c Config) BooksDir(instID string) string {
	return filepath.Join(c.Root, "raw", "okx", "l2_perps", instID)
}

// MetaFile is the cached instrument metadata document.
func (c Config) MetaFile(instID string) string {
	return filepath.Join(c.Root, "meta", "okx", "instruments", instID+".json")
}

// StateDir is the cursor root for one derived stream.
func (c Config) StateDir(stream string) string {
	return filepath.Join(c.Root, "state", stream, "okx", "perps")
}

// DerivedDir is the output root for one derived stream and instrument.
func (c Config) DerivedDir(stream, instID string) string {
	return filepath.Join(c.Root, "derived", stream, "okx", "perps", instID)
}
