// Package storage holds post attachments and hands out signed links to them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrExists      = errors.New("storage: object already exists")
	ErrNotFound    = errors.New("storage: object not found")
	ErrInvalidName = errors.New("storage: invalid object name")
)

// Object describes a stored file.
type Object struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Bucket is the object store attachments are written to.
type Bucket interface {
	Ensure(ctx context.Context) (created bool, err error)
	// Put never overwrites; an existing name yields ErrExists.
	Put(ctx context.Context, name, contentType string, r io.Reader) (Object, error)
	Open(ctx context.Context, name string) (io.ReadCloser, Object, error)
}

const metaSuffix = ".meta"

// DirBucket keeps objects as files under Root/Name. The content type of each
// object lives in a ".meta" sidecar next to it.
type DirBucket struct {
	Root string
	Name string
}

func NewDirBucket(root, name string) *DirBucket {
	return &DirBucket{Root: root, Name: name}
}

func (b *DirBucket) dir() string {
	return filepath.Join(b.Root, b.Name)
}

func (b *DirBucket) Ensure(_ context.Context) (bool, error) {
	if _, err := os.Stat(b.dir()); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(b.dir(), 0o755); err != nil {
		return false, fmt.Errorf("create bucket %s: %w", b.Name, err)
	}
	return true, nil
}

func (b *DirBucket) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, metaSuffix) {
		return "", ErrInvalidName
	}
	return filepath.Join(b.dir(), name), nil
}

func (b *DirBucket) Put(_ context.Context, name, contentType string, r io.Reader) (Object, error) {
	p, err := b.path(name)
	if err != nil {
		return Object{}, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return Object{}, ErrExists
		}
		return Object{}, fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p)
		return Object{}, fmt.Errorf("write %s: %w", name, err)
	}
	obj := Object{Name: name, ContentType: contentType, Size: n}
	meta, err := json.Marshal(obj)
	if err != nil {
		return Object{}, err
	}
	if err := os.WriteFile(p+metaSuffix, meta, 0o644); err != nil {
		os.Remove(p)
		return Object{}, fmt.Errorf("write %s metadata: %w", name, err)
	}
	return obj, nil
}

func (b *DirBucket) Open(_ context.Context, name string) (io.ReadCloser, Object, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, err
	}
	obj := Object{Name: name, ContentType: "application/octet-stream"}
	if meta, err := os.ReadFile(p + metaSuffix); err == nil {
		_ = json.Unmarshal(meta, &obj)
	}
	if st, err := f.Stat(); err == nil {
		obj.Size = st.Size()
	}
	return f, obj, nil
}

// SanitizeName keeps the base name of an uploaded file and replaces
// characters that do not belong in a URL path segment.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.TrimLeft(sb.String(), ".")
	if out == "" {
		return "file"
	}
	// ".meta" is reserved for sidecars.
	if base, ok := strings.CutSuffix(out, metaSuffix); ok {
		out = base + "_meta"
	}
	return out
}
