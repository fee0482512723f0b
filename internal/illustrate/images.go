package illustrate

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ImageStore keeps image bytes returned by providers that do not host them.
type ImageStore interface {
	// Save stores data and returns the reference pages should carry.
	Save(ctx context.Context, data []byte, contentType string) (string, error)
}

// DirStore writes images into a directory served under URLPrefix.
type DirStore struct {
	Dir       string
	URLPrefix string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir, urlPrefix string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/images/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &DirStore{Dir: dir, URLPrefix: urlPrefix}, nil
}

// Save writes data to a fresh file named after a UUID.
func (s *DirStore) Save(_ context.Context, data []byte, contentType string) (string, error) {
	name := uuid.New().String() + extensionFor(contentType)
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return s.URLPrefix + name, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png", "":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

var _ ImageStore = (*DirStore)(nil)
