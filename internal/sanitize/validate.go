package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrPathTraversal indicates a name contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrSuspiciousFilename indicates a filename carries script or URI markers.
	ErrSuspiciousFilename = errors.New("suspicious filename")

	// ErrEmptyFilename indicates no filename was supplied.
	ErrEmptyFilename = errors.New("filename cannot be empty")

	// ErrInvalidKey indicates an object key was not produced by StorageKey.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrInvalidTenantID indicates the tenant ID format is invalid.
	ErrInvalidTenantID = errors.New("invalid tenant ID format")
)

const maxFilenameLength = 255

var suspiciousMarkers = []string{"<script", "javascript:", "vbscript:", "data:"}

var (
	keyPattern    = regexp.MustCompile(`^clients/[a-z0-9._-]+/products/[a-z0-9._-]+/media/[a-z0-9._-]+/[a-z0-9._-]+$`)
	tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
)

// CheckFilename rejects filenames carrying traversal or injection patterns.
// Matching is case-insensitive.
func CheckFilename(name string) error {
	if name == "" {
		return ErrEmptyFilename
	}
	if len(name) > maxFilenameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrSuspiciousFilename, maxFilenameLength)
	}
	if !utf8.ValidString(name) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: invalid characters", ErrSuspiciousFilename)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: contains a path separator", ErrPathTraversal)
	}
	lower := strings.ToLower(name)
	for _, m := range suspiciousMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: contains %q", ErrSuspiciousFilename, m)
		}
	}
	return nil
}

// ValidateKey checks that key has the StorageKey shape and no traversal.
func ValidateKey(key string) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: %w", ErrInvalidKey, ErrPathTraversal)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ValidateTenantID checks that a tenant identifier taken from a token is a
// plain token: alphanumeric with '-' or '_', 1-64 chars.
func ValidateTenantID(id string) error {
	if !tenantPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}
