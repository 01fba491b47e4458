/**
 * Image Scanner
 *
 * Enumerates scanned document images in an input directory and assigns each one
 * a sequence index and a stable identifier derived from its file name.
 */

package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
)

// AllowedExtensions holds the image extensions picked up from the input directory
var AllowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// imageNamespace scopes image IDs so they never collide with other UUIDv5 users
var imageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("medscan:image"))

// ImageRef identifies one input image
type ImageRef struct {
	ID       uuid.UUID
	Index    int // 1-based position in the directory listing
	Filename string
	Path     string
}

// ImageID returns the stable identifier for an image file name
func ImageID(filename string) uuid.UUID {
	return uuid.NewSHA1(imageNamespace, []byte(filename))
}

// NormalizeExt lowercases and trims the dot from a file extension
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsImageFile reports whether name carries a supported image extension
func IsImageFile(name string) bool {
	_, ok := AllowedExtensions[NormalizeExt(filepath.Ext(name))]
	return ok
}

// Scan lists the images in dir in directory-listing order. A missing input
// directory is fatal and is reported before any image is touched.
func Scan(dir string) ([]ImageRef, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperrors.NewInputDirMissingError(dir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewInputDirMissingError(dir, fmt.Errorf("%s is not a directory", dir))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var refs []ImageRef
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !IsImageFile(name) {
			continue
		}
		refs = append(refs, ImageRef{
			ID:       ImageID(name),
			Index:    len(refs) + 1,
			Filename: name,
			Path:     filepath.Join(dir, name),
		})
	}

	return refs, nil
}
