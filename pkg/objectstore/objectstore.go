package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/unclesp1d3r/cipherswarm/pkg/log"
	"github.com/unclesp1d3r/cipherswarm/pkg/types"
)

// Store catalogs opaque blobs (word lists, rule lists, mask lists) and
// renders the download metadata agents need. The server never reads
// blob contents on the hot path; agents drive the actual downloads.
type Store interface {
	Put(fileName string, r io.Reader) (*types.Resource, error)
	Get(id string) (*types.Resource, error)
	Open(id string) (io.ReadCloser, error)
	DownloadURL(id string) string
	Ping() error
}

// LocalStore is a flat directory of blobs: <dir>/<id> holds the bytes,
// <dir>/<id>.json the catalog entry. The catalog is loaded on boot and
// kept in memory.
type LocalStore struct {
	dir     string
	baseURL string

	mu        sync.RWMutex
	resources map[string]*types.Resource
}

// NewLocalStore creates the blob directory if needed and loads the
// existing catalog. baseURL is the externally reachable prefix rendered
// into download URLs.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	s := &LocalStore{
		dir:       dir,
		baseURL:   baseURL,
		resources: make(map[string]*types.Resource),
	}
	if err := s.loadCatalog(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) loadCatalog() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read blob directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read catalog entry %s: %w", entry.Name(), err)
		}
		var res types.Resource
		if err := json.Unmarshal(data, &res); err != nil {
			return fmt.Errorf("failed to parse catalog entry %s: %w", entry.Name(), err)
		}
		s.resources[res.ID] = &res
	}
	return nil
}

// Put stores the blob, computing its checksum while writing, and
// persists the catalog entry next to it.
func (s *LocalStore) Put(fileName string, r io.Reader) (*types.Resource, error) {
	id := uuid.New().String()
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}

	res := &types.Resource{
		ID:        id,
		FileName:  fileName,
		Checksum:  hex.EncodeToString(h.Sum(nil)),
		Size:      size,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(res)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to encode catalog entry: %w", err)
	}
	if err := os.WriteFile(path+".json", data, 0o644); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write catalog entry: %w", err)
	}

	s.mu.Lock()
	s.resources[id] = res
	s.mu.Unlock()

	log.Logger.Info().
		Str("resource_id", id).
		Str("file_name", fileName).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("resource stored")
	return res, nil
}

// Get returns the catalog entry for id.
func (s *LocalStore) Get(id string) (*types.Resource, error) {
	s.mu.RLock()
	res, ok := s.resources[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", id)
	}
	return res, nil
}

// Open returns a reader over the blob bytes.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, id))
}

// DownloadURL renders the URL an agent fetches the blob from.
func (s *LocalStore) DownloadURL(id string) string {
	return fmt.Sprintf("%s/resources/%s", s.baseURL, id)
}

// Ping verifies the blob directory is reachable and writable.
func (s *LocalStore) Ping() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("blob directory unreachable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob path is not a directory: %s", s.dir)
	}
	return nil
}
