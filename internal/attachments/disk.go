// ABOUTME: Local filesystem attachment backend
// ABOUTME: Writes files under a root directory and serves them from a base URL

package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore writes attachments below Dir. URLs are BaseURL joined with the key.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating attachment dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the root directory.
func (d *DiskStore) Dir() string {
	return d.dir
}

// path resolves key below Dir, refusing keys that escape it.
func (d *DiskStore) path(key string) (string, error) {
	dst := filepath.Join(d.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(dst, filepath.Clean(d.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("attachment key %q escapes storage dir", key)
	}
	return dst, nil
}

// Put writes body to Dir/key. The write goes through a temp file so readers
// never observe a partial attachment.
func (d *DiskStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	dst, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("creating attachment dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("finalizing attachment: %w", err)
	}

	return d.baseURL + "/" + key, nil
}

// Delete removes Dir/key.
func (d *DiskStore) Delete(ctx context.Context, key string) error {
	dst, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing attachment: %w", err)
	}
	return nil
}
