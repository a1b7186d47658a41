package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "vault", cfg.Root)
	assert.Equal(t, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, cfg.Instruments)
	assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", cfg.WSURL)
	assert.Equal(t, "https://www.okx.com", cfg.RESTURL)
	assert.Equal(t, 2*time.Second, cfg.SnapshotCadence)
	assert.Equal(t, 400, cfg.DepthLevels)
	assert.Equal(t, 168*time.Hour, cfg.WickExpiry)
	assert.Equal(t, 6, cfg.UncompressedHours)
	assert.Equal(t, 5, cfg.RetentionDays)
}

func Test_Load_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
root: /data/vault
instruments:
  - SOL-USDT-SWAP
snapshot_cadence: 5s
depth_levels: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vault.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/data/vault", cfg.Root)
	assert.Equal(t, []string{"SOL-USDT-SWAP"}, cfg.Instruments)
	assert.Equal(t, 5*time.Second, cfg.SnapshotCadence)
	assert.Equal(t, 50, cfg.DepthLevels)
	assert.Equal(t, "https://www.okx.com", cfg.RESTURL, "unset keys keep defaults")
}

func Test_Load_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vault.yaml"),
		[]byte("root: [unclosed"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func Test_ValidateInstrument(t *testing.T) {
	cfg := Config{Instruments: []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}}

	assert.NoError(t, cfg.ValidateInstrument("BTC-USDT-SWAP"))

	err := cfg.ValidateInstrument("DOGE-USDT-SWAP")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	assert.ErrorIs(t, cfg.ValidateInstrument(""), ErrUnknownInstrument)
}

func Test_Paths(t *testing.T) {
	cfg := Config{Root: "/data/vault"}

	assert.Equal(t, "/data/vault/raw/okx/trades_perps/BTC-USDT-SWAP", cfg.TradesDir("BTC-USDT-SWAP"))
	assert.Equal(t, "/data/vault/raw/okx/l2_perps/BTC-USDT-SWAP", cfg.BooksDir("BTC-USDT-SWAP"))
	assert.Equal(t, "/data/vault/meta/okx/instruments/BTC-USDT-SWAP.json", cfg.MetaFile("BTC-USDT-SWAP"))
	assert.Equal(t, "/data/vault/state/candles/okx/perps", cfg.StateDir("candles"))
	assert.Equal(t, "/data/vault/derived/vwap/okx/perps/BTC-USDT-SWAP", cfg.DerivedDir("vwap", "BTC-USDT-SWAP"))
}
