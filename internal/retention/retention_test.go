package retention

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFileAged(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func readGz(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func Test_CompressOlderThan(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "BTC-USDT-SWAP", "2024-03-01", "09.jsonl")
	fresh := filepath.Join(root, "BTC-USDT-SWAP", "2024-03-01", "10.jsonl")
	writeFileAged(t, old, "{\"a\":1}\n{\"a\":2}\n", 8*time.Hour)
	writeFileAged(t, fresh, "{\"a\":3}\n", time.Minute)

	n, err := CompressOlderThan(root, time.Now().Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, old, "original removed after compression")
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", readGz(t, old+".gz"))
	assert.FileExists(t, fresh, "recent partition untouched")
	assert.NoFileExists(t, fresh+".gz")
}

func Test_CompressOlderThan_SkipsExistingGz(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "09.jsonl")
	writeFileAged(t, old, "{\"a\":1}\n", 8*time.Hour)
	writeFileAged(t, old+".gz", "stale", 8*time.Hour)

	n, err := CompressOlderThan(root, time.Now().Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.FileExists(t, old, "original kept when gz already present")
}

func Test_CompressOlderThan_MissingRoot(t *testing.T) {
	n, err := CompressOlderThan(filepath.Join(t.TempDir(), "absent"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func Test_DeleteCompressedOlderThan(t *testing.T) {
	root := t.TempDir()
	expired := filepath.Join(root, "2024-02-20", "05.jsonl.gz")
	recent := filepath.Join(root, "2024-03-01", "09.jsonl.gz")
	plain := filepath.Join(root, "2024-02-20", "06.jsonl")
	writeFileAged(t, expired, "x", 6*24*time.Hour)
	writeFileAged(t, recent, "x", time.Hour)
	writeFileAged(t, plain, "x", 6*24*time.Hour)

	n, err := DeleteCompressedOlderThan(root, time.Now().Add(-5*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoFileExists(t, expired)
	assert.FileExists(t, recent)
	assert.FileExists(t, plain, "uncompressed files are not deleted")
}

func Test_RetentionCycle(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "09.jsonl")
	writeFileAged(t, old, "{\"seq\":1}\n", 8*time.Hour)

	n, err := CompressOlderThan(root, time.Now().Add(-6*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Freshly written gz is inside the retention horizon.
	n, err = DeleteCompressedOlderThan(root, time.Now().Add(-5*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.FileExists(t, old+".gz")
}
