// Package validation checks user-supplied paths and file sizes before the
// n42 tool reads or writes them.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Limits applied to user input (CWE-400).
const (
	// MaxFileSize is the largest N42 file accepted for ingest (256 MB).
	MaxFileSize = 256 << 20
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrPathTooLong      = errors.New("path too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNotRegular       = errors.New("not a regular file")
	ErrNotXML           = errors.New("content is not XML")
)

// ValidatePath checks a path for length limits, null bytes and control
// characters.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// CheckFile validates path and returns the size of the regular file there.
// Files over MaxFileSize are rejected.
func CheckFile(path string) (int64, error) {
	if err := ValidatePath(path); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if info.Size() > MaxFileSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), MaxFileSize)
	}
	return info.Size(), nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SniffXML returns ErrNotXML unless buf starts like an XML document: an
// optional UTF-8 byte order mark and whitespace, then '<'.
func SniffXML(buf []byte) error {
	buf = bytes.TrimPrefix(buf, utf8BOM)
	buf = bytes.TrimLeft(buf, " \t\r\n")
	if len(buf) == 0 || buf[0] != '<' {
		return ErrNotXML
	}
	return nil
}
