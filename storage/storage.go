// Package storage abstracts the object store a table lives in. Paths are
// slash-separated and relative to the table root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
)

var (
	// ErrExists is returned by PutIfAbsent when the object already exists.
	ErrExists = errors.New("object already exists")
	// ErrNotExist is returned by Read for a missing object.
	ErrNotExist = errors.New("object does not exist")
	// ErrUnsupportedScheme is returned by Open for locations it cannot serve.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")
)

// Object describes a stored file.
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Storage is the file I/O a table needs.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	// PutIfAbsent writes data only if path does not exist yet, returning
	// ErrExists otherwise. Table commits rely on it being atomic.
	PutIfAbsent(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	// List returns every object under prefix, recursively, sorted by path.
	List(ctx context.Context, prefix string) ([]Object, error)
	// URI is the table root this storage is bound to.
	URI() string
}

// Options configures backends that need more than the credential.
type Options struct {
	S3Endpoint  string
	S3Region    string
	S3PathStyle bool
	Now         func() time.Time
}

// Opener opens the storage behind a table handle.
type Opener func(ctx context.Context, handle catalog.TableHandle) (Storage, error)

// NewOpener returns an Opener that checks credential validity and then
// selects a backend by the handle's location scheme.
func NewOpener(opts Options) Opener {
	return func(ctx context.Context, handle catalog.TableHandle) (Storage, error) {
		return Open(ctx, handle, opts)
	}
}

// Open returns the Storage for handle. An expired credential fails with
// gatewayerr.ErrCredentialExpired before any I/O.
func Open(ctx context.Context, handle catalog.TableHandle, opts Options) (Storage, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if !handle.Usable(now()) {
		return nil, fmt.Errorf("open %s: %w", handle.Name, gatewayerr.ErrCredentialExpired)
	}

	scheme, rest := splitScheme(handle.Location)
	switch scheme {
	case "", "file":
		return NewLocal(rest)
	case "s3", "s3a":
		bucket, prefix, ok := strings.Cut(rest, "/")
		if !ok {
			prefix = ""
		}
		return NewS3(ctx, S3Config{
			Bucket:          bucket,
			Prefix:          strings.Trim(prefix, "/"),
			Region:          opts.S3Region,
			Endpoint:        opts.S3Endpoint,
			PathStyle:       opts.S3PathStyle,
			AccessKeyID:     handle.Credential.AccessKeyID,
			SecretAccessKey: handle.Credential.SecretAccessKey,
			SessionToken:    handle.Credential.SessionToken,
		})
	}
	return nil, fmt.Errorf("open %s: %w: %s", handle.Location, ErrUnsupportedScheme, scheme)
}

func splitScheme(location string) (string, string) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return "", location
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return "file", u.Path
	default:
		return strings.ToLower(u.Scheme), u.Host + u.Path
	}
}

// Join joins slash paths, dropping empty elements.
func Join(elem ...string) string {
	var parts []string
	for _, e := range elem {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return path.Join(parts...)
}
