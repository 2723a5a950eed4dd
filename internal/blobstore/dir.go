package blobstore

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

// DirContainer is a Container backed by a local directory. Object names are
// file names; modification time stands in for creation time.
type DirContainer struct {
	root string
}

// NewDirContainer returns a container over root, which must be a directory.
func NewDirContainer(root string) (*DirContainer, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("directory container: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("directory container: %s is not a directory", root)
	}
	return &DirContainer{root: root}, nil
}

// Root returns the backing directory.
func (c *DirContainer) Root() string {
	return c.root
}

// List implements Container.
func (c *DirContainer) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, &TransientFetchError{Op: "list", Err: err}
	}

	var out []ObjectInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &TransientFetchError{Op: "list", Name: entry.Name(), Err: err}
		}
		out = append(out, ObjectInfo{Name: entry.Name(), Created: info.ModTime(), Size: info.Size()})
	}
	return out, nil
}

// Open implements Container.
func (c *DirContainer) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.objectPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Name: name}
	}
	if err != nil {
		return nil, &TransientFetchError{Op: "download", Name: name, Err: err}
	}
	return f, nil
}

// Upload implements Container. The object appears atomically.
func (c *DirContainer) Upload(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := c.objectPath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.root, ".upload-*")
	if err != nil {
		return &TransientFetchError{Op: "upload", Name: name, Err: err}
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &TransientFetchError{Op: "upload", Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &TransientFetchError{Op: "upload", Name: name, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &TransientFetchError{Op: "upload", Name: name, Err: err}
	}
	return nil
}

// objectPath rejects names that would escape the root.
func (c *DirContainer) objectPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(c.root, name), nil
}
