package vacasa

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CachedToken is the persisted form of a session.
type CachedToken struct {
	Token     string    `json:"token"`
	Expiry    time.Time `json:"expiry"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenCache persists the session token across restarts.
type TokenCache interface {
	Load() (*CachedToken, error)
	Save(*CachedToken) error
	Clear() error
}

// FileTokenCache stores the token as JSON in a file readable only by the
// running user. Writes go through a temp file and rename so readers never
// see a partial token.
type FileTokenCache struct {
	path string
}

// NewFileTokenCache returns a cache stored at path.
func NewFileTokenCache(path string) *FileTokenCache {
	return &FileTokenCache{path: path}
}

// Path returns the cache file location.
func (c *FileTokenCache) Path() string {
	return c.path
}

// Load returns (nil, nil) when no cache exists.
func (c *FileTokenCache) Load() (*CachedToken, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}

	var ct CachedToken
	if err := json.Unmarshal(b, &ct); err != nil {
		return nil, &DataParseError{Op: "load token cache", Detail: "corrupt cache file", Err: err}
	}
	if ct.Token == "" {
		return nil, nil
	}
	return &ct, nil
}

// Save atomically replaces the cache file with mode 0600.
func (c *FileTokenCache) Save(ct *CachedToken) error {
	if ct == nil {
		return errors.New("nil token")
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token cache directory: %w", err)
	}

	b, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("encoding token cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp token cache: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting token cache permissions: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("replacing token cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. A missing file is not an error.
func (c *FileTokenCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token cache: %w", err)
	}
	return nil
}
