// Package blob stores bulk artifacts (job logs, captured lockfiles, source
// snapshots) outside the relational store, per spec.md §4.1's split between
// "a single-process-owned directory tree" and "an embedded relational
// store". Grounded on syz-cluster/pkg/blob/storage.go.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage is not meant for large objects -- crater's logs are capped at a
// few MiB by policy (spec.md §4.4) -- but rather for anything too big to
// comfortably live in a relational column.
type Storage interface {
	// Store returns a URI to use later with Read/Update.
	Store(source io.Reader) (string, error)
	Update(uri string, source io.Reader) error
	Read(uri string) (io.ReadCloser, error)
}

var _ Storage = (*LocalStorage)(nil)

// LocalStorage keeps objects under a base directory on the local disk --
// the results tree of spec.md §6's filesystem layout.
type LocalStorage struct {
	baseFolder string
}

func NewLocalStorage(baseFolder string) *LocalStorage {
	return &LocalStorage{baseFolder: baseFolder}
}

const localPrefix = "local://"

func (ls *LocalStorage) Store(source io.Reader) (string, error) {
	name := uuid.NewString()
	if err := ls.writeFile(name, source); err != nil {
		return "", err
	}
	return localPrefix + name, nil
}

// StoreNamed stores the object under a caller-chosen relative path (e.g.
// "<toolchain>/<package>/log.zst"), used when the results tree needs a
// predictable layout rather than a random key.
func (ls *LocalStorage) StoreNamed(name string, source io.Reader) (string, error) {
	if err := ls.writeFile(name, source); err != nil {
		return "", err
	}
	return localPrefix + name, nil
}

func (ls *LocalStorage) Update(uri string, source io.Reader) error {
	if !strings.HasPrefix(uri, localPrefix) {
		return fmt.Errorf("unsupported URI scheme: %q", uri)
	}
	return ls.writeFile(strings.TrimPrefix(uri, localPrefix), source)
}

func (ls *LocalStorage) Read(uri string) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, localPrefix) {
		return nil, fmt.Errorf("unsupported URI scheme: %q", uri)
	}
	path := filepath.Join(ls.baseFolder, filepath.FromSlash(strings.TrimPrefix(uri, localPrefix)))
	return os.Open(path)
}

// writeFile writes via a temp-file-and-rename sequence so a crash mid-write
// leaves either the old or the new content, never a mix -- spec.md §4.1.
func (ls *LocalStorage) writeFile(name string, source io.Reader) error {
	dst := filepath.Join(ls.baseFolder, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// ReadAllBytes is a convenience for the common "slurp the whole blob" case.
func ReadAllBytes(storage Storage, uri string) ([]byte, error) {
	if uri == "" {
		return nil, nil
	}
	r, err := storage.Read(uri)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
