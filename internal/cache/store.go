// Package cache persists the per-stage artifact triple that drives the
// skip/execute decision.
//
// For a stage named N under a cache directory, three artifacts exist:
//
//	N.inputs   canonical JSON of the annotated input mapping
//	N.stage    opaque blob carrying the code fingerprint
//	N.outputs  canonical JSON of the annotated, aliased output mapping
//
// A lookup succeeds only when all three are present and both the input
// and code fingerprints match. Anything missing, unreadable, or corrupt
// is a miss, never an error: execution proceeds and overwrites. There
// is no partial-credit skip.
package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"stageweaver/internal/sentinel"
	"stageweaver/internal/value"
)

// stageFileMagic is the first line of a .stage artifact.
const stageFileMagic = "stageweaver stage fingerprint v1"

// Store answers "can this stage be skipped, and with what cached
// result?" and persists new results.
type Store interface {
	// Lookup returns the cached output mapping for name only if the
	// stored input fingerprint and code fingerprint both equal the
	// current ones. Any failed check or unreadable artifact is a miss.
	Lookup(name string, inputFP, codeFP []byte) (value.Map, bool)

	// Store writes the artifact triple, overwriting any previous one.
	Store(name string, inputs value.Map, codeFP []byte, outputs value.Map) error
}

// DirStore is the filesystem Store. All writes go through
// write-temp-then-rename, and the outputs artifact is committed before
// the fingerprints, so a crash mid-store leaves a mismatched triple
// that reads as a miss rather than a stale hit.
type DirStore struct {
	// Dir is the cache directory holding the artifact triples.
	Dir string

	log *zap.Logger
}

// NewDirStore creates a filesystem store rooted at dir. A nil logger
// disables logging.
func NewDirStore(dir string, log *zap.Logger) *DirStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirStore{Dir: dir, log: log}
}

func (s *DirStore) inputsPath(name string) string  { return filepath.Join(s.Dir, name+".inputs") }
func (s *DirStore) stagePath(name string) string   { return filepath.Join(s.Dir, name+".stage") }
func (s *DirStore) outputsPath(name string) string { return filepath.Join(s.Dir, name+".outputs") }

// Lookup implements Store.
func (s *DirStore) Lookup(name string, inputFP, codeFP []byte) (value.Map, bool) {
	storedCode, err := readStageFile(s.stagePath(name))
	if err != nil {
		s.log.Debug("cache miss: stage artifact unreadable",
			zap.String("stage", name), zap.Error(err))
		return nil, false
	}
	if storedCode != hex.EncodeToString(codeFP) {
		s.log.Debug("cache miss: code fingerprint changed", zap.String("stage", name))
		return nil, false
	}

	storedInputs, err := readMapArtifact(s.inputsPath(name))
	if err != nil {
		s.log.Debug("cache miss: inputs artifact unreadable",
			zap.String("stage", name), zap.Error(err))
		return nil, false
	}
	storedInputFP, err := value.Digest(sentinel.DigestView(storedInputs))
	if err != nil || !bytes.Equal(storedInputFP, inputFP) {
		s.log.Debug("cache miss: input fingerprint changed", zap.String("stage", name))
		return nil, false
	}

	outputs, err := readMapArtifact(s.outputsPath(name))
	if err != nil {
		s.log.Debug("cache miss: outputs artifact unreadable",
			zap.String("stage", name), zap.Error(err))
		return nil, false
	}
	return outputs, true
}

// Store implements Store.
func (s *DirStore) Store(name string, inputs value.Map, codeFP []byte, outputs value.Map) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	outputsData, err := value.EncodeIndent(outputs)
	if err != nil {
		return fmt.Errorf("encoding outputs for stage %q: %w", name, err)
	}
	inputsData, err := value.EncodeIndent(inputs)
	if err != nil {
		return fmt.Errorf("encoding inputs for stage %q: %w", name, err)
	}
	stageData := []byte(stageFileMagic + "\n" + hex.EncodeToString(codeFP) + "\n")

	// Outputs first, fingerprints last: a crash between writes leaves a
	// triple whose fingerprints do not cover the new outputs, which the
	// next lookup reads as a miss.
	if err := writeFileAtomic(s.outputsPath(name), outputsData, 0644); err != nil {
		return fmt.Errorf("writing outputs artifact: %w", err)
	}
	if err := writeFileAtomic(s.inputsPath(name), inputsData, 0644); err != nil {
		return fmt.Errorf("writing inputs artifact: %w", err)
	}
	if err := writeFileAtomic(s.stagePath(name), stageData, 0644); err != nil {
		return fmt.Errorf("writing stage artifact: %w", err)
	}
	return nil
}

func readStageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.SplitN(strings.TrimRight(string(data), "\n"), "\n", 2)
	if len(lines) != 2 || lines[0] != stageFileMagic {
		return "", fmt.Errorf("malformed stage artifact %q", path)
	}
	return lines[1], nil
}

func readMapArtifact(path string) (value.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := value.Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(value.Map)
	if !ok {
		return nil, fmt.Errorf("artifact %q is not a mapping", path)
	}
	return m, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemStore is an in-memory Store for tests and short-lived processes.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	inputs  value.Map
	code    string
	outputs value.Map
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

// Lookup implements Store.
func (s *MemStore) Lookup(name string, inputFP, codeFP []byte) (value.Map, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	if entry.code != hex.EncodeToString(codeFP) {
		return nil, false
	}
	storedInputFP, err := value.Digest(sentinel.DigestView(entry.inputs))
	if err != nil || !bytes.Equal(storedInputFP, inputFP) {
		return nil, false
	}
	return copyMap(entry.outputs), true
}

// Store implements Store.
func (s *MemStore) Store(name string, inputs value.Map, codeFP []byte, outputs value.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[name] = memEntry{
		inputs:  copyMap(inputs),
		code:    hex.EncodeToString(codeFP),
		outputs: copyMap(outputs),
	}
	return nil
}

// copyMap round-trips through the canonical encoding to guard stored
// entries against caller mutation.
func copyMap(m value.Map) value.Map {
	raw, err := value.Encode(m)
	if err != nil {
		return m
	}
	v, err := value.Decode(raw)
	if err != nil {
		return m
	}
	if mm, ok := v.(value.Map); ok {
		return mm
	}
	return m
}
