package attach

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// fsStore implements Store on the local filesystem under a root directory.
// Keys map to relative file paths; content types are derived from the file
// extension on read.
type fsStore struct {
	root string
}

var _ Store = (*fsStore)(nil)

// NewFilesystem returns a filesystem attachment store rooted at root
// (default ./attachments).
func NewFilesystem(root string) (Store, error) {
	if root == "" {
		root = "attachments"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create attach root: %w", err)
	}
	return &fsStore{root: root}, nil
}

func (s *fsStore) Driver() Driver { return DriverFilesystem }

// resolve validates the key and maps it inside the root. Escaping the root
// is a caller contract violation.
func (s *fsStore) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid attachment key %q", key)
	}
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid attachment key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *fsStore) Put(_ context.Context, key string, data []byte, _ string) (Info, error) {
	p, err := s.resolve(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(p); err == nil {
		return Info{}, ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return Info{}, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return Info{}, fmt.Errorf("write attachment: %w", err)
	}
	return s.stat(key, p)
}

func (s *fsStore) Get(_ context.Context, key string) (Info, []byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return Info{}, nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil, ErrNotFound
	}
	if err != nil {
		return Info{}, nil, fmt.Errorf("read attachment: %w", err)
	}
	info, err := s.stat(key, p)
	if err != nil {
		return Info{}, nil, err
	}
	return info, data, nil
}

func (s *fsStore) Delete(_ context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	return true, nil
}

func (s *fsStore) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.stat(key, p)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *fsStore) stat(key, p string) (Info, error) {
	st, err := os.Stat(p)
	if err != nil {
		return Info{}, fmt.Errorf("stat attachment: %w", err)
	}
	return Info{
		Key:          key,
		Size:         st.Size(),
		ContentType:  mime.TypeByExtension(path.Ext(key)),
		LastModified: st.ModTime().UTC(),
	}, nil
}
