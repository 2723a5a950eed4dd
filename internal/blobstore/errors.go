package blobstore

import (
	"errors"
	"fmt"
)

// NotFoundError reports that no object matched a prefix, or that a named
// object does not exist.
type NotFoundError struct {
	Prefix string
	Name   string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("snapshot %q not found", e.Name)
	}
	return fmt.Sprintf("no snapshot matches prefix %q", e.Prefix)
}

// TransientFetchError wraps a network or storage fault. The operation may
// succeed if retried; this package never retries on its own.
type TransientFetchError struct {
	Op   string // list, download or upload
	Name string
	Err  error
}

func (e *TransientFetchError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Name, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a TransientFetchError.
func IsTransient(err error) bool {
	var tfe *TransientFetchError
	return errors.As(err, &tfe)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
