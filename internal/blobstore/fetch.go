package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// StagedFile is a fetched object held in a local file until Release.
type StagedFile struct {
	name string
	path string
	size int64

	once sync.Once
	err  error
}

// Name is the object the file was fetched from.
func (f *StagedFile) Name() string { return f.name }

// Path is the local file holding the content.
func (f *StagedFile) Path() string { return f.path }

// Size is the number of bytes staged.
func (f *StagedFile) Size() int64 { return f.size }

// Release deletes the staged file. It is safe to call more than once.
func (f *StagedFile) Release() error {
	f.once.Do(func() {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.err = err
		}
	})
	return f.err
}

// Fetch downloads the named object into a new file under dir ("" uses the
// OS temp directory). The StagedFile is returned only after the whole stream
// has been written; on any failure nothing is left behind.
func Fetch(ctx context.Context, c Container, name, dir string) (*StagedFile, error) {
	rc, err := c.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(dir, "convoetl-snapshot-*.json")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	staged := &StagedFile{name: name, path: tmp.Name()}

	n, copyErr := io.Copy(tmp, rc)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		staged.Release()
		if copyErr == nil {
			return nil, fmt.Errorf("write staging file: %w", closeErr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransientFetchError{Op: "download", Name: name, Err: copyErr}
	}
	staged.size = n
	return staged, nil
}
