// Package imageproc validates image files and materializes ImageDocs.
package imageproc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liliang-cn/mrag/pkg/domain"
)

var supportedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".bmp": true, ".webp": true,
}

type Service struct {
	captioner   domain.Captioner
	maxSizeMB   float64
	autoCaption bool
}

// LoadOptions control a single image load.
type LoadOptions struct {
	// Caption overrides auto-captioning when non-empty.
	Caption string
	Tags    []string
}

func New(captioner domain.Captioner, maxSizeMB float64, autoCaption bool) (*Service, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("%w: max image size must be positive: %f", domain.ErrConfigInvalid, maxSizeMB)
	}
	return &Service{
		captioner:   captioner,
		maxSizeMB:   maxSizeMB,
		autoCaption: autoCaption,
	}, nil
}

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Validate checks existence, format, and size.
func (s *Service) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: image file not found: %s", domain.ErrImageInvalid, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: path is a directory, not a file: %s", domain.ErrImageInvalid, path)
	}
	if !IsSupported(path) {
		return fmt.Errorf("%w: unsupported image format: %s", domain.ErrImageInvalid, filepath.Ext(path))
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)
	if sizeMB > s.maxSizeMB {
		return fmt.Errorf("%w: %.2fMB exceeds limit %.2fMB: %s", domain.ErrImageTooLarge, sizeMB, s.maxSizeMB, path)
	}
	return nil
}

// EncodeBase64 reads the file and returns its base64 encoding.
func EncodeBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read image %s: %v", domain.ErrImageInvalid, path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// generateID derives a stable 16-hex-char ID from the absolute path and
// the load timestamp.
func generateID(absPath string, now time.Time) string {
	sum := sha256.Sum256([]byte(absPath + now.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// Load validates and materializes an ImageDoc. Caption precedence:
// explicit option, then auto-caption when enabled, then the
// "Image: <filename>" fallback so the caption is never empty.
func (s *Service) Load(ctx context.Context, path string, opts LoadOptions) (*domain.ImageDoc, error) {
	if err := s.Validate(path); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageInvalid, err)
	}

	now := time.Now()
	fileName := filepath.Base(absPath)

	caption := strings.TrimSpace(opts.Caption)
	if caption == "" && s.autoCaption && s.captioner != nil {
		generated, err := s.captioner.Caption(ctx, absPath, "", 0)
		if err != nil {
			return nil, err
		}
		caption = generated
	}
	if caption == "" {
		caption = fmt.Sprintf("Image: %s", fileName)
	}

	doc := &domain.ImageDoc{
		ID:        generateID(absPath, now),
		Path:      absPath,
		FileName:  fileName,
		ImageType: strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), "."),
		Caption:   caption,
		Tags:      opts.Tags,
		Created:   now,
		Metadata: map[string]interface{}{
			"file_size_mb":  float64(info.Size()) / (1024 * 1024),
			"absolute_path": absPath,
			"tags":          opts.Tags,
		},
	}

	return doc, nil
}
