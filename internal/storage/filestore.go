// Package storage keeps uploaded screenshots in a single flat directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrInvalidName  = errors.New("invalid file name")
	ErrFileNotFound = errors.New("file not found")
)

type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore creates dir on fs if it is absent.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload directory %s: %w", dir, err)
	}
	if exists {
		return &FileStore{fs: fs, dir: dir}, nil
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

// NewOSFileStore is NewFileStore on the real filesystem.
func NewOSFileStore(dir string) (*FileStore, error) {
	return NewFileStore(afero.NewOsFs(), dir)
}

func (s *FileStore) Dir() string {
	return s.dir
}

// GenerateName derives a stored name from a client supplied filename:
// a random UUID followed by the original extension. Only the base name of
// original is considered.
func GenerateName(original string) (string, error) {
	base := BaseName(original)
	if base == "" {
		return "", ErrInvalidName
	}
	return uuid.NewString() + Ext(base), nil
}

// BaseName strips directories (either separator style) and surrounding
// whitespace. It returns "" when nothing usable remains.
func BaseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// Ext is the extension of a base name, "" for dotfiles like ".png".
func Ext(base string) string {
	ext := path.Ext(base)
	if ext == base {
		return ""
	}
	return ext
}

// Save writes data verbatim under name. The write goes to a temporary file
// first so a failed write never leaves a partial file under name.
func (s *FileStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validName(name) {
		return ErrInvalidName
	}

	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

// Open returns a reader for a stored file. The caller closes it.
func (s *FileStore) Open(name string) (afero.File, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := s.fs.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

func validName(name string) bool {
	return name != "" && BaseName(name) == name && !strings.HasPrefix(name, ".")
}
