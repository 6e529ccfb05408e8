// Package media implements the object store behind the media endpoints:
// id generation, extension sanitization, and pluggable persistence backends.
package media

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object is the unit of storage. Its ID is the only key for lookup and
// deletion; the original filename is used solely to derive Ext.
type Object struct {
	ID          string    `json:"id"`
	Ext         string    `json:"ext"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Filename returns the public name of the object, "{id}{ext}".
func (o *Object) Filename() string {
	return o.ID + o.Ext
}

// ErrNotFound is returned when no live object matches an id.
var ErrNotFound = errors.New("object not found")

// ErrInvalidInput is returned for empty payloads and unsanitizable filenames.
var ErrInvalidInput = errors.New("invalid input")

// ErrTooLarge is returned when a payload exceeds the configured maximum.
var ErrTooLarge = errors.New("payload too large")

// ErrStorageFull is returned when the storage medium cannot accept the write.
var ErrStorageFull = errors.New("storage full")

// Object ids are UUIDv4 hex: 32 lowercase hex characters, no dashes.
var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Extensions are a dot followed by 1-8 lowercase alphanumerics.
var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// NewID returns a fresh collision-resistant object id. The id is generated
// from a crypto-random source, never derived from content or filename, so
// storage locations are never attacker-chosen.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id matches the store's id syntax. Lookups for
// invalid ids fail fast without touching storage.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidExt reports whether ext is a syntactically safe extension.
func ValidExt(ext string) bool {
	return extPattern.MatchString(ext)
}

// SanitizeExt derives a safe extension from an untrusted filename. The
// filename never reaches a storage path; only the extension survives, and
// only if it is syntactically safe and on the allow-list.
func SanitizeExt(filename string, allowed map[string]struct{}) (string, error) {
	// Strip any directory components, including Windows-style separators.
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: filename contains NUL", ErrInvalidInput)
	}

	ext := strings.ToLower(path.Ext(base))
	if !extPattern.MatchString(ext) {
		return "", fmt.Errorf("%w: unsafe or missing file extension", ErrInvalidInput)
	}
	if len(allowed) > 0 {
		if _, ok := allowed[ext]; !ok {
			return "", fmt.Errorf("%w: file type %q not allowed", ErrInvalidInput, ext)
		}
	}
	return ext, nil
}

// ContentTypeFor infers a content type from the sanitized extension, falling
// back to the upload's declared type, then to application/octet-stream.
func ContentTypeFor(ext, declared string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func timeNow() time.Time {
	return time.Now().UTC()
}

// extSet builds the allow-list lookup used by the backends.
func extSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}
