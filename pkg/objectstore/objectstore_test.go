package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	content := "password\nletmein\n"
	res, err := store.Put("rockyou.txt", strings.NewReader(content))
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "rockyou.txt", res.FileName)
	assert.Equal(t, int64(len(content)), res.Size)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), res.Checksum)

	got, err := store.Get(res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Checksum, got.Checksum)

	_, err = store.Get("missing")
	assert.Error(t, err)
}

func TestOpenReturnsBlobBytes(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	res, err := store.Put("rules.txt", strings.NewReader("c $1"))
	require.NoError(t, err)

	r, err := store.Open(res.ID)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "c $1", string(data))
}

func TestCatalogSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewLocalStore(dir, "http://localhost:8080")
	require.NoError(t, err)
	res, err := store.Put("masks.hcmask", strings.NewReader("?d?d?d?d"))
	require.NoError(t, err)

	reopened, err := NewLocalStore(dir, "http://localhost:8080")
	require.NoError(t, err)

	got, err := reopened.Get(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "masks.hcmask", got.FileName)
	assert.Equal(t, res.Checksum, got.Checksum)
}

func TestDownloadURL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "https://swarm.example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://swarm.example.com/resources/abc", store.DownloadURL("abc"))
}

func TestPing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)
	assert.NoError(t, store.Ping())
}
