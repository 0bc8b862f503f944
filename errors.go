package xmlmode

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrDecode              = errors.New("document could not be decoded")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrLineTooLong         = errors.New("line exceeds maximum length")
	ErrInvalidMode         = errors.New("invalid validation mode")
	ErrNotExist            = errors.New("file does not exist")
	ErrNotAllowed          = errors.New("operation not allowed")
	ErrNotDir              = errors.New("not a directory")
	ErrIsDir               = errors.New("is a directory")
	ErrNotSupported        = errors.New("operation not supported")
)

// ScanError records a failure reading a document stream and the line the
// scanner had reached when it happened.
type ScanError struct {
	Op   string
	Line int
	Err  error
}

// Error implements the error interface
func (e *ScanError) Error() string {
	if e.Line <= 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s line %d: %v", e.Op, e.Line, e.Err)
}

// Unwrap returns the underlying error
func (e *ScanError) Unwrap() error {
	return e.Err
}

// PathError records an error and the operation and file path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// IsNotExist reports whether an error indicates that a document or
// directory does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsNotAllowed reports whether an error indicates a path outside the
// source root
func IsNotAllowed(err error) bool {
	return errors.Is(err, ErrNotAllowed)
}

// IsDecodeError reports whether an error is a character decoding failure.
// The detector maps these to ValidationAuto rather than returning them.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDecode)
}
