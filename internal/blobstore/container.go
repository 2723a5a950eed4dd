package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/convoetl/internal/config"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Name    string
	Created time.Time
	Size    int64
}

// Container is a flat namespace of named objects.
type Container interface {
	// List returns every object whose name starts with prefix, in no
	// particular order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Open streams the full content of the named object.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Upload stores r under name, replacing any existing object.
	Upload(ctx context.Context, name string, r io.Reader) error
}

// ContainerRef identifies a container.
//
// For https URLs Endpoint is scheme and host, Container the first path
// segment and Credential the raw query (a SAS token). For file URLs Endpoint
// is "file://" and Container the directory path.
type ContainerRef struct {
	Endpoint   string
	Container  string
	Credential string
}

// IsLocal reports whether the ref names a local directory.
func (r ContainerRef) IsLocal() bool {
	return r.Endpoint == "file://"
}

// String renders the ref without its credential.
func (r ContainerRef) String() string {
	if r.IsLocal() {
		return r.Endpoint + r.Container
	}
	return r.Endpoint + "/" + r.Container
}

// ParseContainerURL splits a container URL into its parts.
func ParseContainerURL(raw string) (ContainerRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ContainerRef{}, &config.ConfigError{Field: "storage.container_url", Message: "container URL is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ContainerRef{}, &config.ConfigError{Field: "storage.container_url", Message: err.Error()}
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return ContainerRef{}, &config.ConfigError{Field: "storage.container_url", Message: "file URL has no path"}
		}
		return ContainerRef{Endpoint: "file://", Container: u.Path}, nil
	case "http", "https":
	default:
		return ContainerRef{}, &config.ConfigError{
			Field:   "storage.container_url",
			Message: fmt.Sprintf("unsupported scheme %q", u.Scheme),
		}
	}

	if u.Host == "" {
		return ContainerRef{}, &config.ConfigError{Field: "storage.container_url", Message: "URL has no host"}
	}
	name, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if name == "" {
		return ContainerRef{}, &config.ConfigError{Field: "storage.container_url", Message: "URL has no container name"}
	}
	return ContainerRef{
		Endpoint:   u.Scheme + "://" + u.Host,
		Container:  name,
		Credential: u.RawQuery,
	}, nil
}

// Connect returns the container named by ref. A remote ref without an
// embedded credential uses sasFallback; with neither it is a ConfigError.
func Connect(ref ContainerRef, sasFallback string) (Container, error) {
	if ref.IsLocal() {
		c, err := NewDirContainer(ref.Container)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if ref.Credential == "" {
		ref.Credential = strings.TrimPrefix(strings.TrimSpace(sasFallback), "?")
	}
	if ref.Credential == "" {
		return nil, &config.ConfigError{
			Field:   "storage.sas_token",
			Message: "no credential in container URL and no SAS token supplied",
		}
	}
	c, err := NewAzureContainer(ref)
	if err != nil {
		return nil, err
	}
	return c, nil
}
