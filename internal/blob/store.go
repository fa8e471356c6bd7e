// Package blob stores uploaded profile photos and returns their public URL.
package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmpty       = errors.New("empty upload")
	ErrTooLarge    = errors.New("upload too large")
	ErrUnsupported = errors.New("unsupported content type")
	ErrBadEncoding = errors.New("photo is not valid base64")
	ErrForeignURL  = errors.New("url not served by this store")
)

// DefaultMaxSize caps a single upload.
const DefaultMaxSize = 1 << 20

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// FSStore writes blobs under a directory that is served over HTTP at
// baseURL.
type FSStore struct {
	dir     string
	baseURL string
	maxSize int
	newName func() string
}

func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: DefaultMaxSize,
		newName: uuid.NewString,
	}, nil
}

// Dir returns the directory blobs are written to.
func (s *FSStore) Dir() string { return s.dir }

// Upload stores data under a fresh name and returns its URL. The content
// type is sniffed from the bytes.
func (s *FSStore) Upload(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > s.maxSize {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}

	name := s.newName() + ext
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("publish blob: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

// Delete removes the blob behind url. A blob that is already gone is not an
// error.
func (s *FSStore) Delete(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// DecodePhoto accepts raw base64 or a data URL and returns the bytes.
func DecodePhoto(photo string) ([]byte, error) {
	photo = strings.TrimSpace(photo)
	if strings.HasPrefix(photo, "data:") {
		if i := strings.Index(photo, ","); i >= 0 {
			photo = photo[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(photo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	return data, nil
}
