package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// File persists a Store at a fixed path. Paths ending in .json or
// .jsonc use JSON (comments and trailing commas allowed on read); any
// other path uses YAML.
type File struct {
	path string
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Path() string { return f.path }

func (f *File) isJSON() bool {
	ext := strings.ToLower(filepath.Ext(f.path))
	return ext == ".json" || ext == ".jsonc"
}

// Revision identifies one version of the file on disk. Save replaces
// the file by rename, so every save yields a new revision.
type Revision struct {
	info os.FileInfo
}

// IsZero reports whether r identifies no version at all.
func (r Revision) IsZero() bool { return r.info == nil }

// Same reports whether r and o were taken from the same version.
func (r Revision) Same(o Revision) bool {
	if r.info == nil || o.info == nil {
		return r.info == nil && o.info == nil
	}
	return os.SameFile(r.info, o.info) &&
		r.info.ModTime().Equal(o.info.ModTime()) &&
		r.info.Size() == o.info.Size()
}

// Revision identifies the version currently on disk.
func (f *File) Revision() (Revision, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return Revision{}, fmt.Errorf("%w: %w", ErrConfigIO, err)
	}
	return Revision{info: fi}, nil
}

// LoadRevision loads the file together with its revision. The revision
// is taken before the read, so a racing write leaves it older than the
// content, never newer.
func (f *File) LoadRevision() (*Store, Revision, error) {
	rev, err := f.Revision()
	if err != nil {
		return nil, Revision{}, err
	}
	s, err := f.Load()
	if err != nil {
		return nil, Revision{}, err
	}
	return s, rev, nil
}

// Load reads and validates the file. Keys absent from the file keep
// their default values.
func (f *File) Load() (*Store, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrConfigIO, f.path, err)
	}
	s, err := f.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return s, nil
}

// Decode parses data in the file's format.
func (f *File) Decode(data []byte) (*Store, error) {
	s := Default()
	if f.isJSON() {
		if err := json.Unmarshal(jsonc.ToJSON(data), s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
	} else {
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrParse, err)
			}
		}
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return s, nil
}

// Encode renders s in the file's format.
func (f *File) Encode(s *Store) ([]byte, error) {
	if f.isJSON() {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save atomically replaces the file: the data is written to a temporary
// file in the same directory, fsynced and renamed into place, so a
// concurrent reader never sees a partial write.
func (f *File) Save(s *Store) error {
	data, err := f.Encode(s)
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrConfigIO, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigIO, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temporary file: %w", ErrConfigIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: writing temporary file: %w", ErrConfigIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: syncing temporary file: %w", ErrConfigIO, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrConfigIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: closing temporary file: %w", ErrConfigIO, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming into place: %w", ErrConfigIO, err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
