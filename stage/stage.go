// Package stage moves case artifacts between the data, execution and result
// directories of a run: plain and recursive copies, symbolic links with a copy
// fallback, and purges.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Check selects the type validation applied to a link target
type Check uint8

const (
	CheckNone Check = iota
	CheckFile
	CheckDir
)

// Stager performs file operations on a billy filesystem. Paths are absolute.
type Stager struct {
	fs billy.Filesystem
}

func New(fs billy.Filesystem) *Stager {
	return &Stager{fs: fs}
}

// NewOS stages on the host filesystem
func NewOS() *Stager {
	return New(osfs.New("/"))
}

// NewMemory stages on an in-memory filesystem
func NewMemory() *Stager {
	return New(memfs.New())
}

func (s *Stager) FS() billy.Filesystem {
	return s.fs
}

func (s *Stager) IsFile(path string) bool {
	fi, err := s.fs.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (s *Stager) IsDir(path string) bool {
	fi, err := s.fs.Stat(path)
	return err == nil && fi.IsDir()
}

// Exists reports whether path or the link at path exists
func (s *Stager) Exists(path string) bool {
	if _, err := s.fs.Stat(path); err == nil {
		return true
	}
	_, err := s.fs.Lstat(path)
	return err == nil
}

func (s *Stager) MkdirAll(path string) error {
	if err := s.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// List returns the sorted entry names of dir
func (s *Stager) List(dir string) ([]string, error) {
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Stager) ReadFile(path string) ([]byte, error) {
	data, err := util.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (s *Stager) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := util.WriteFile(s.fs, path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Create truncates or creates path for writing
func (s *Stager) Create(path string) (io.WriteCloser, error) {
	f, err := s.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, nil
}

// CopyFile copies a regular file, keeping its permissions and modification
// time where the filesystem supports it.
func (s *Stager) CopyFile(src, dest string) error {
	fi, err := s.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	defer in.Close()
	out, err := s.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	if ch, ok := s.fs.(billy.Change); ok {
		_ = ch.Chmod(dest, fi.Mode().Perm())
		_ = ch.Chtimes(dest, fi.ModTime(), fi.ModTime())
	}
	return nil
}

// CopyTree copies the directory src into dest. Unlike a plain tree copy, dest
// may already exist and its contents are merged with those of src.
func (s *Stager) CopyTree(src, dest string) error {
	if !s.IsDir(dest) {
		if err := s.MkdirAll(dest); err != nil {
			return err
		}
	}
	names, err := s.List(src)
	if err != nil {
		return err
	}
	for _, name := range names {
		fSrc := filepath.Join(src, name)
		fDest := filepath.Join(dest, name)
		switch {
		case s.IsFile(fSrc):
			err = s.CopyFile(fSrc, fDest)
		case s.IsDir(fSrc):
			err = s.CopyTree(fSrc, fDest)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Copy copies a file or directory from src to dest, removing src afterwards
// when purge is set. Missing sources and identical paths are no-ops.
func (s *Stager) Copy(src, dest string, purge bool) error {
	if filepath.Clean(src) == filepath.Clean(dest) {
		return nil
	}
	switch {
	case s.IsFile(src):
		if err := s.CopyFile(src, dest); err != nil {
			return err
		}
	case s.IsDir(src):
		if err := s.CopyTree(src, dest); err != nil {
			return err
		}
	default:
		return nil
	}
	if purge {
		return s.Remove(src)
	}
	return nil
}

// Remove deletes a file, link or directory tree. Missing paths are ignored.
func (s *Stager) Remove(path string) error {
	fi, err := s.fs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", path, err)
	}
	if fi.IsDir() {
		err = util.RemoveAll(s.fs, path)
	} else {
		err = s.fs.Remove(path)
	}
	if err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// Link creates a symbolic link at link pointing to target, or copies target
// when the filesystem cannot hold links.
func (s *Stager) Link(target, link string, check Check) error {
	switch {
	case target == "":
		return fmt.Errorf("no target for link: %s", link)
	case link == "":
		return fmt.Errorf("no path name given for link to: %s", target)
	case !s.Exists(target):
		return fmt.Errorf("file: %s does not exist", target)
	case check == CheckFile && !s.IsFile(target):
		return fmt.Errorf("%s is not a regular file", target)
	case check == CheckDir && !s.IsDir(target):
		return fmt.Errorf("%s is not a directory", target)
	}
	err := s.fs.Symlink(target, link)
	if err == nil {
		return nil
	}
	if !errors.Is(err, billy.ErrNotSupported) && !errors.Is(err, errors.ErrUnsupported) {
		return fmt.Errorf("linking %s to %s: %w", link, target, err)
	}
	if s.IsDir(target) {
		return s.CopyTree(target, link)
	}
	return s.CopyFile(target, link)
}

// Filter returns the names matching a shell pattern
func Filter(names []string, pattern string) (matched []string) {
	for _, name := range names {
		if ok, _ := filepath.Match(pattern, name); ok {
			matched = append(matched, name)
		}
	}
	return
}
