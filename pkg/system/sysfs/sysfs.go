//go:build linux

// Package sysfs reads and writes kernel attribute files below a
// configurable root, so tests can point it at a synthetic tree.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrEmpty indicates an attribute file that held only whitespace.
var ErrEmpty = errors.New("sysfs: empty attribute")

// FS is a view of a sysfs (or procfs) tree rooted at Root.
type FS struct {
	Root string
}

// New returns an FS rooted at root; "" means "/".
func New(root string) FS {
	if root == "" {
		root = "/"
	}
	return FS{Root: root}
}

// Path joins rel onto the root.
func (f FS) Path(rel ...string) string {
	return filepath.Join(append([]string{f.Root}, rel...)...)
}

// Exists reports whether rel exists.
func (f FS) Exists(rel string) bool {
	_, err := os.Stat(f.Path(rel))
	return err == nil
}

// ReadString returns the file content with surrounding whitespace removed.
func (f FS) ReadString(rel string) (string, error) {
	b, err := os.ReadFile(f.Path(rel))
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("%s: %w", rel, ErrEmpty)
	}
	return s, nil
}

// ReadInt parses the file as a base-10 integer.
func (f FS) ReadInt(rel string) (int64, error) {
	s, err := f.ReadString(rel)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", rel, err)
	}
	return v, nil
}

// WriteString writes v to an existing attribute. Missing files are not
// created: a sysfs attribute that does not exist is not supported.
func (f FS) WriteString(rel, v string) error {
	fh, err := os.OpenFile(f.Path(rel), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := fh.WriteString(v); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// WriteInt writes v in base 10.
func (f FS) WriteInt(rel string, v int64) error {
	return f.WriteString(rel, strconv.FormatInt(v, 10))
}

// Glob matches pattern below the root and returns root-relative paths
// in lexical order.
func (f FS) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(f.Path(pattern))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(f.Root, m)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// IsNotExist reports whether err means the attribute is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
