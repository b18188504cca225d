package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stageweaver/internal/cache"
)

func addPair(a, b, c int) (int, int) { return a + b, b + c }

func double(x int) int { return x * 2 }

func sideEffect() {}

func failing(msg string) (int, error) { return 0, fmt.Errorf("stage says: %s", msg) }

func withCtx(ctx context.Context, x int) int {
	if ctx == nil {
		return -1
	}
	return x
}

func readLength(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func TestStage_MapsReturnsOntoDeclaredOutputs(t *testing.T) {
	s, err := New(addPair, WithOutputs("d", "e"))
	require.NoError(t, err)

	got, err := s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"d": 3, "e": 5}, got)
	require.True(t, s.HasRun())
	require.False(t, s.FromCache())
}

func TestStage_InputNamesFromSource(t *testing.T) {
	s, err := New(addPair, WithOutputs("d", "e"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, s.InputNames())
	require.Equal(t, "addPair", s.Name())
}

func TestStage_SkipsUnchangedRerun(t *testing.T) {
	store := cache.NewMemStore()
	s, err := New(addPair, WithOutputs("d", "e"), WithStore(store))
	require.NoError(t, err)

	first, err := s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"d": 3, "e": 5}, first)
	require.True(t, s.HasRun())

	second, err := s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.False(t, s.HasRun())
	require.True(t, s.FromCache())
	// Cached replay carries JSON number semantics.
	require.Equal(t, map[string]any{"d": float64(3), "e": float64(5)}, second)
}

func TestStage_RerunsOnInputChange(t *testing.T) {
	store := cache.NewMemStore()
	s, err := New(addPair, WithOutputs("d", "e"), WithStore(store))
	require.NoError(t, err)

	_, err = s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)

	got, err := s.Run(context.Background(), 2, 3, 4)
	require.NoError(t, err)
	require.True(t, s.HasRun())
	require.Equal(t, map[string]any{"d": 5, "e": 7}, got)

	// And back to the first inputs: the original entry was overwritten.
	got, err = s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.True(t, s.HasRun())
	require.Equal(t, map[string]any{"d": 3, "e": 5}, got)
}

func TestStage_SkipSurvivesProcessBoundary(t *testing.T) {
	dir := t.TempDir()

	s1, err := New(addPair, WithOutputs("d", "e"), WithCacheDir(dir))
	require.NoError(t, err)
	_, err = s1.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.True(t, s1.HasRun())

	// A fresh instance over the same cache directory stands in for a new
	// process.
	s2, err := New(addPair, WithOutputs("d", "e"), WithCacheDir(dir))
	require.NoError(t, err)
	got, err := s2.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.True(t, s2.FromCache())
	require.Equal(t, map[string]any{"d": float64(3), "e": float64(5)}, got)
}

func TestStage_StaticOverridesRuntimeInput(t *testing.T) {
	s, err := New(addPair, WithOutputs("d", "e"), WithStatic("c", 10))
	require.NoError(t, err)

	got, err := s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"d": 3, "e": 12}, got)

	got, err = s.Run(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"d": 3, "e": 12}, got)
}

func TestStage_StaticMustNameAParameter(t *testing.T) {
	_, err := New(addPair, WithOutputs("d", "e"), WithStatic("nope", 1))
	require.Error(t, err)
}

func TestStage_NamedInputs(t *testing.T) {
	s, err := New(addPair, WithOutputs("d", "e"))
	require.NoError(t, err)

	got, err := s.RunNamed(context.Background(), map[string]any{"b": 2, "c": 3}, 1)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"d": 3, "e": 5}, got)

	_, err = s.RunNamed(context.Background(), map[string]any{"zz": 1})
	require.Error(t, err)
}

func TestStage_AliasRenamesOutput(t *testing.T) {
	s, err := New(addPair,
		WithOutputs("d", "e"),
		WithAliases(map[string]string{"e": "sum"}))
	require.NoError(t, err)

	got, err := s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"d": 3, "sum": 5}, got)
}

func TestStage_ArityMismatchIsFatal(t *testing.T) {
	s, err := New(addPair, WithOutputs("only"))
	require.NoError(t, err)

	_, err = s.Run(context.Background(), 1, 2, 3)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrArity))
}

func TestStage_DefaultOutputName(t *testing.T) {
	s, err := New(double)
	require.NoError(t, err)

	got, err := s.Run(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 8}, got)
}

func TestStage_NoReturnYieldsNilOutput(t *testing.T) {
	s, err := New(sideEffect)
	require.NoError(t, err)

	got, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": nil}, got)
}

func TestStage_TrailingErrorSurfaces(t *testing.T) {
	s, err := New(failing)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), "boom")
	require.ErrorContains(t, err, "stage says: boom")
}

func TestStage_ContextInjection(t *testing.T) {
	s, err := New(withCtx)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, s.InputNames())

	got, err := s.Run(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 9}, got)
}

func TestStage_AnonymousFunctionNeedsName(t *testing.T) {
	_, err := New(func(x int) int { return x })
	require.Error(t, err)

	s, err := New(func(x int) int { return x }, WithName("identity"), WithInputs("x"))
	require.NoError(t, err)
	require.Equal(t, "identity", s.Name())
}

func TestStage_FileIdentityIsContentBased(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()

	pathA := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(pathA, []byte("payload"), 0644))

	s1, err := New(readLength, WithCacheDir(cacheDir))
	require.NoError(t, err)
	got, err := s1.Run(context.Background(), pathA)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 7}, got)
	require.True(t, s1.HasRun())

	// Same bytes under a different name: still a hit.
	pathB := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(pathB, []byte("payload"), 0644))

	s2, err := New(readLength, WithCacheDir(cacheDir))
	require.NoError(t, err)
	_, err = s2.Run(context.Background(), pathB)
	require.NoError(t, err)
	require.True(t, s2.FromCache())

	// Changed bytes: a rerun.
	require.NoError(t, os.WriteFile(pathB, []byte("different payload"), 0644))
	s3, err := New(readLength, WithCacheDir(cacheDir))
	require.NoError(t, err)
	_, err = s3.Run(context.Background(), pathB)
	require.NoError(t, err)
	require.True(t, s3.HasRun())
}

func TestStage_CachedOutputFileReverified(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()
	out := filepath.Join(dir, "result.txt")

	writer := func(text string) (string, error) {
		if err := os.WriteFile(out, []byte(text), 0644); err != nil {
			return "", err
		}
		return out, nil
	}

	s1, err := New(writer, WithName("writer"), WithInputs("text"), WithCacheDir(cacheDir))
	require.NoError(t, err)
	_, err = s1.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, s1.HasRun())

	// Unchanged on disk: skip.
	s2, err := New(writer, WithName("writer"), WithInputs("text"), WithCacheDir(cacheDir))
	require.NoError(t, err)
	got, err := s2.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, s2.FromCache())
	require.Equal(t, map[string]any{"output": out}, got)

	// Output deleted behind the cache's back: rerun.
	require.NoError(t, os.Remove(out))
	s3, err := New(writer, WithName("writer"), WithInputs("text"), WithCacheDir(cacheDir))
	require.NoError(t, err)
	_, err = s3.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, s3.HasRun())
}

func TestStage_ForceRunIgnoresHit(t *testing.T) {
	store := cache.NewMemStore()

	s1, err := New(addPair, WithOutputs("d", "e"), WithStore(store))
	require.NoError(t, err)
	_, err = s1.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)

	s2, err := New(addPair, WithOutputs("d", "e"), WithStore(store), ForceRun())
	require.NoError(t, err)
	_, err = s2.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.True(t, s2.HasRun())
}

func TestStage_ForceSkipWithoutEntryYieldsEmpty(t *testing.T) {
	s, err := New(addPair, WithOutputs("d", "e"), ForceSkip())
	require.NoError(t, err)

	got, err := s.Run(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.Empty(t, got)
	require.False(t, s.HasRun())
}

func TestStage_UnserializableInputFatalWithCache(t *testing.T) {
	s, err := New(double, WithStore(cache.NewMemStore()), WithInputs("x"))
	require.NoError(t, err)

	_, err = s.RunNamed(context.Background(), map[string]any{"x": make(chan int)})
	require.Error(t, err)
}

func TestStage_NameRejectsPathSeparators(t *testing.T) {
	_, err := New(double, WithName("a/b"))
	require.Error(t, err)
}

func TestCommandStage_ExitCodeIsFirstOutput(t *testing.T) {
	s, err := NewCommand("sh", WithName("ok"), WithArgs("-c", "exit 0"))
	require.NoError(t, err)

	got, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 0}, got)
}

func TestCommandStage_NonZeroExitIsAResult(t *testing.T) {
	s, err := NewCommand("sh", WithName("fails"), WithArgs("-c", "exit 3"))
	require.NoError(t, err)

	got, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 3}, got)
}

func TestCommandStage_ExpectedOutputsExposed(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "made.txt")

	s, err := NewCommand("sh",
		WithName("maker"),
		WithArgs("-c", "echo made > "+out),
		WithExpectedOutputs(out))
	require.NoError(t, err)
	require.Equal(t, []string{"output", "output0"}, s.OutputNames())

	got, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 0, "output0": out}, got)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "made\n", string(data))
}

func TestCommandStage_SkipsUnchangedRerun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "made.txt")

	cacheDir := t.TempDir()
	s1, err := NewCommand("sh",
		WithName("maker"),
		WithArgs("-c", "echo made > "+out),
		WithExpectedOutputs(out),
		WithCacheDir(cacheDir))
	require.NoError(t, err)

	_, err = s1.Run(context.Background())
	require.NoError(t, err)
	require.True(t, s1.HasRun())

	s2, err := NewCommand("sh",
		WithName("maker"),
		WithArgs("-c", "echo made > "+out),
		WithExpectedOutputs(out),
		WithCacheDir(cacheDir))
	require.NoError(t, err)
	got, err := s2.Run(context.Background())
	require.NoError(t, err)
	require.True(t, s2.FromCache())
	require.Equal(t, map[string]any{"output": float64(0), "output0": out}, got)
}

func TestCommandStage_NamedArgOverride(t *testing.T) {
	s, err := NewCommand("sh", WithName("over"), WithArgs("-c", "exit 1"))
	require.NoError(t, err)

	got, err := s.RunNamed(context.Background(), map[string]any{"arg1": "exit 0"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"output": 0}, got)
}

func TestCommandStage_RejectsNonArgInputs(t *testing.T) {
	s, err := NewCommand("sh", WithName("strict"), WithArgs("-c", "exit 0"))
	require.NoError(t, err)

	_, err = s.RunNamed(context.Background(), map[string]any{"path": "x"})
	require.Error(t, err)
}

func TestCommandStage_OutputCountMustMatch(t *testing.T) {
	_, err := NewCommand("sh",
		WithName("bad"),
		WithOutputs("a", "b", "c"),
		WithArgs("-c", "exit 0"))
	require.Error(t, err)
}
