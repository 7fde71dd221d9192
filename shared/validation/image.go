package validation

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
)

// ImageLimits bounds what a single upload draft may contain.
type ImageLimits struct {
	MaxFiles         int
	MaxFileSizeBytes int64
	AllowedMimeTypes []string
}

// CheckCount fails when adding files would push the draft over MaxFiles.
func (l ImageLimits) CheckCount(existing, added int) error {
	if existing+added > l.MaxFiles {
		return fmt.Errorf("%w: %d of %d", ErrTooManyFiles, existing+added, l.MaxFiles)
	}
	return nil
}

// ReadImage reads an uploaded file into memory and returns its sniffed MIME
// type. Size is checked against both the declared header and the bytes read.
func (l ImageLimits) ReadImage(fh *multipart.FileHeader) (string, []byte, error) {
	if fh.Size > l.MaxFileSizeBytes {
		return "", nil, fmt.Errorf("%w: %s", ErrFileTooLarge, fh.Filename)
	}

	src, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open uploaded file %s: %w", fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, l.MaxFileSizeBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read uploaded file %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > l.MaxFileSizeBytes {
		return "", nil, fmt.Errorf("%w: %s", ErrFileTooLarge, fh.Filename)
	}

	mimeType := DetectMimeType(fh.Filename, data)
	if !slices.Contains(l.AllowedMimeTypes, mimeType) {
		return "", nil, fmt.Errorf("%w: %s (file: %s)", ErrInvalidMimeType, mimeType, fh.Filename)
	}
	return mimeType, data, nil
}

// DetectMimeType trusts the content over the browser's label. The extension
// is consulted only for formats the sniffer does not know, such as TIFF.
func DetectMimeType(filename string, data []byte) string {
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if mimeType != "application/octet-stream" {
		return mimeType
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		mimeType, _, _ = strings.Cut(byExt, ";")
	}
	return mimeType
}

// FormatSizeMB renders a byte count for user-facing messages.
func FormatSizeMB(bytes int64) string {
	mb := float64(bytes) / (1024 * 1024)
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%d MB", int64(mb))
	}
	return fmt.Sprintf("%.1f MB", mb)
}
