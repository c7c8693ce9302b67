// Package files implements the path-validated file operations the hub
// forwards. Every operation is confined to a root directory; requests
// that escape it are rejected before touching the filesystem.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/barelyworkingcode/eve/internal/model"
)

// MaxReadSize caps ReadFile to keep single frames bounded.
const MaxReadSize = 5 * 1024 * 1024

// Entry is one row of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"isDirectory"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modifiedAt"`
}

// Service performs root-confined file operations.
type Service struct{}

// NewService creates the file service.
func NewService() *Service { return &Service{} }

// Resolve joins rel onto root and verifies the result stays inside.
func (s *Service) Resolve(root, rel string) (string, error) {
	cleanRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Clean(filepath.Join(cleanRoot, rel))
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, model.ErrPathOutsideRoot)
	}
	return joined, nil
}

// ListDirectory lists entries, directories first, each group sorted by
// name.
func (s *Service) ListDirectory(root, rel string) ([]Entry, error) {
	path, err := s.Resolve(root, rel)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    de.Name(),
			IsDir:   de.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ReadFile returns a file's contents, refusing anything over
// MaxReadSize.
func (s *Service) ReadFile(root, rel string) ([]byte, error) {
	path, err := s.Resolve(root, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.Size() > MaxReadSize {
		return nil, fmt.Errorf("%s (%d bytes): %w", rel, info.Size(), model.ErrFileTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// WriteFile writes contents, creating parent directories as needed.
func (s *Service) WriteFile(root, rel string, data []byte) error {
	path, err := s.Resolve(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parents for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// RenameFile renames within the same directory.
func (s *Service) RenameFile(root, rel, newName string) error {
	if strings.ContainsRune(newName, os.PathSeparator) {
		return fmt.Errorf("rename target %q: %w", newName, model.ErrPathOutsideRoot)
	}
	oldPath, err := s.Resolve(root, rel)
	if err != nil {
		return err
	}
	newPath, err := s.Resolve(root, filepath.Join(filepath.Dir(rel), newName))
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}

// MoveFile moves a file or directory to another root-relative path.
func (s *Service) MoveFile(root, rel, destRel string) error {
	oldPath, err := s.Resolve(root, rel)
	if err != nil {
		return err
	}
	newPath, err := s.Resolve(root, destRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("create parents for %s: %w", destRel, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("move %s: %w", rel, err)
	}
	return nil
}

// DeleteFile removes a file or directory tree.
func (s *Service) DeleteFile(root, rel string) error {
	path, err := s.Resolve(root, rel)
	if err != nil {
		return err
	}
	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err == nil && path == rootAbs {
		return fmt.Errorf("refusing to delete project root")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// CreateDirectory makes a directory (and parents).
func (s *Service) CreateDirectory(root, rel string) error {
	path, err := s.Resolve(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	return nil
}
