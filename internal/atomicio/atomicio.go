// Package atomicio implements the ledger's single crash-safety
// primitive: write-to-temp, fsync, rename-over-final, used by every
// persistent mutation in the store, embedding index, and cache. Temp
// files are named "<dir>/.<uuid>.tmp" to guarantee uniqueness without a
// PID (which is reused across restarts and meaningless across
// containers).
package atomicio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DirMode and FileMode are the default on-disk permissions for ledger data.
const (
	DirMode          os.FileMode = 0o700
	FileMode         os.FileMode = 0o644
	SecurityFileMode os.FileMode = 0o600
)

// WriteFile atomically replaces path with data: it writes to a sibling
// temp file named "<dir>/.<uuid>.tmp" on the same filesystem, fsyncs the
// descriptor, then renames over path. On any failure the temp file is
// unlinked; a failure to unlink is ignored: it is not fatal, and it is
// neither returned nor logged.
func WriteFile(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("atomicio: mkdir %s: %w", dir, err)
	}
	tmpPath := filepath.Join(dir, "."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("atomicio: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("atomicio: write temp: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("atomicio: fsync: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("atomicio: close temp: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicio: rename: %w", err)
	}
	return nil
}

// WriteNewFile writes content to path only if path does not already
// exist (the discipline append_block relies on: a new block file is
// never overwritten, so a crash mid-append leaves either no new block
// or a complete one). If path exists with identical content the call is
// a harmless no-op; if it exists with different content that is treated
// as a conflicting write.
func WriteNewFile(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("atomicio: mkdir %s: %w", dir, err)
	}
	tmpPath := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("atomicio: create temp: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomicio: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomicio: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomicio: close temp: %w", err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			existing, readErr := os.ReadFile(path)
			if readErr == nil && bytes.Equal(existing, content) {
				return nil
			}
			return fmt.Errorf("atomicio: %s already exists with different content", path)
		}
		return fmt.Errorf("atomicio: link: %w", err)
	}
	_ = os.Remove(tmpPath)
	return nil
}

// EnsureDir creates dir (and parents) with DirMode if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("atomicio: mkdir %s: %w", dir, err)
	}
	return nil
}
