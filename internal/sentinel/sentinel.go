// Package sentinel detects filesystem paths inside value graphs and
// substitutes structured file references carrying content hashes.
//
// File identity is content-based: fingerprint comparison looks at the
// hash view (DigestView), not at paths or metadata, and cache lookups
// re-verify referenced files against the filesystem (Verify).
package sentinel

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"stageweaver/internal/value"
)

// HashFile returns the sha256 hex digest of the file's current bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isFile reports whether path names an existing regular file.
func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Annotate recursively walks v and replaces every string leaf that names
// an existing, readable regular file with a FileRef holding the file's
// current content hash. Strings that do not resolve, or that resolve to
// a file that cannot be read, pass through unchanged. Non-string leaves
// pass through unchanged. The input is not mutated.
func Annotate(v value.Value) value.Value {
	switch t := v.(type) {
	case value.String:
		if !isFile(string(t)) {
			return t
		}
		hash, err := HashFile(string(t))
		if err != nil {
			// Exists but unreadable: degrade to a plain string.
			return t
		}
		return value.FileRef{Path: string(t), Hash: hash}
	case value.List:
		out := make(value.List, len(t))
		for i, e := range t {
			out[i] = Annotate(e)
		}
		return out
	case value.Map:
		out := make(value.Map, len(t))
		for k, e := range t {
			out[k] = Annotate(e)
		}
		return out
	default:
		return v
	}
}

// Strip replaces every FileRef with its path string, yielding the view
// handed to callables and returned to users.
func Strip(v value.Value) value.Value {
	switch t := v.(type) {
	case value.FileRef:
		return value.String(t.Path)
	case value.List:
		out := make(value.List, len(t))
		for i, e := range t {
			out[i] = Strip(e)
		}
		return out
	case value.Map:
		out := make(value.Map, len(t))
		for k, e := range t {
			out[k] = Strip(e)
		}
		return out
	default:
		return v
	}
}

// DigestView replaces every FileRef with its content hash string. The
// path is dropped, so a file moved with identical bytes under the same
// key still compares equal. Fingerprint comparison operates on this view.
func DigestView(v value.Value) value.Value {
	switch t := v.(type) {
	case value.FileRef:
		return value.String(t.Hash)
	case value.List:
		out := make(value.List, len(t))
		for i, e := range t {
			out[i] = DigestView(e)
		}
		return out
	case value.Map:
		out := make(value.Map, len(t))
		for k, e := range t {
			out[k] = DigestView(e)
		}
		return out
	default:
		return v
	}
}

// Verify re-hashes every FileRef in v against the filesystem and reports
// whether all referenced files still exist with unchanged contents.
// A value with no FileRefs verifies trivially.
func Verify(v value.Value) bool {
	switch t := v.(type) {
	case value.FileRef:
		hash, err := HashFile(t.Path)
		return err == nil && hash == t.Hash
	case value.List:
		for _, e := range t {
			if !Verify(e) {
				return false
			}
		}
		return true
	case value.Map:
		for _, e := range t {
			if !Verify(e) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
