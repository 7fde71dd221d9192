package validation

import "errors"

// ErrFileTooLarge is returned when an uploaded file exceeds the per-file limit
var ErrFileTooLarge = errors.New("file too large")

// ErrInvalidMimeType is returned when an uploaded file has a disallowed MIME type
var ErrInvalidMimeType = errors.New("invalid MIME type")

// ErrTooManyFiles is returned when a draft would hold more files than allowed
var ErrTooManyFiles = errors.New("too many files")
