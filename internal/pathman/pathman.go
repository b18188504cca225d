// Package pathman manipulates derivative-file naming conventions: a
// base name carrying underscore-delimited suffixes followed by one or
// more extensions, like dir/subject_smoothed_masked.nii.gz.
package pathman

import (
	"os"
	"path/filepath"
	"strings"
)

// GetPrefix returns the filename without directory or extensions. Every
// dot-delimited extension is stripped, so "a/b.nii.gz" yields "b".
func GetPrefix(filename string) string {
	name := filepath.Base(filename)
	for {
		ext := filepath.Ext(name)
		if ext == "" {
			return name
		}
		name = strings.TrimSuffix(name, ext)
	}
}

// GetPathAndPrefix returns GetPrefix with the directory retained.
func GetPathAndPrefix(filename string) string {
	return filepath.Join(filepath.Dir(filename), GetPrefix(filename))
}

// AppendSuffix inserts a suffix between the filename's prefix and its
// extensions. No underscore is added; include one in the suffix.
func AppendSuffix(filename, suffix string) string {
	prefix := GetPathAndPrefix(filename)
	ext := extensions(filename, prefix)
	return prefix + suffix + ext
}

// ReplaceSuffix replaces the last underscore-delimited suffix of the
// filename's prefix with the given one.
func ReplaceSuffix(filename, suffix string) string {
	prefix := GetPathAndPrefix(filename)
	ext := extensions(filename, prefix)
	return dropLastSuffix(prefix) + suffix + ext
}

// DeleteSuffix removes the last underscore-delimited suffix of the
// filename's prefix.
func DeleteSuffix(filename string) string {
	prefix := GetPathAndPrefix(filename)
	ext := extensions(filename, prefix)
	return dropLastSuffix(prefix) + ext
}

// Repath replaces the filename's directory with dirname.
func Repath(dirname, filename string) string {
	return filepath.Join(dirname, filepath.Base(filename))
}

// extensions is everything after the path-and-prefix, covering chained
// extensions like ".nii.gz".
func extensions(filename, pathAndPrefix string) string {
	// filepath.Join cleans the path, so index from the cleaned form.
	cleaned := filepath.Join(filepath.Dir(filename), filepath.Base(filename))
	if len(pathAndPrefix) <= len(cleaned) {
		return cleaned[len(pathAndPrefix):]
	}
	return ""
}

func dropLastSuffix(prefix string) string {
	parts := strings.Split(prefix, "_")
	return strings.Join(parts[:len(parts)-1], "_")
}

// P is a chainable path wrapper over the package functions.
type P string

func (p P) String() string { return string(p) }

func (p P) GetPrefix() P        { return P(GetPrefix(string(p))) }
func (p P) GetPathAndPrefix() P { return P(GetPathAndPrefix(string(p))) }

func (p P) AppendSuffix(suffix string) P  { return P(AppendSuffix(string(p), suffix)) }
func (p P) ReplaceSuffix(suffix string) P { return P(ReplaceSuffix(string(p), suffix)) }
func (p P) DeleteSuffix() P               { return P(DeleteSuffix(string(p))) }
func (p P) Repath(dirname string) P       { return P(Repath(dirname, string(p))) }

// CreateSymlink creates a relative symlink to filename inside dir,
// replacing any existing link or file of the same name, and returns the
// symlink path.
func CreateSymlink(filename, dir string) (string, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absDir, filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	link := filepath.Join(dir, filepath.Base(abs))
	target := filepath.Join(rel, filepath.Base(abs))

	if info, err := os.Lstat(link); err == nil {
		if info.Mode()&os.ModeSymlink != 0 || info.Mode().IsRegular() {
			if err := os.Remove(link); err != nil {
				return "", err
			}
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return "", err
	}
	return link, nil
}
