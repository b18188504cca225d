package sentinel

import (
	"os"
	"path/filepath"
	"testing"

	"stageweaver/internal/value"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestAnnotate_ReplacesExistingFilePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.txt", "contents")

	in := value.Map{
		"file":  value.String(path),
		"plain": value.String("not a file"),
		"n":     value.Number(4),
	}
	out := Annotate(in).(value.Map)

	ref, ok := out["file"].(value.FileRef)
	if !ok {
		t.Fatalf("file leaf not annotated: %T", out["file"])
	}
	if ref.Path != path || ref.Hash == "" {
		t.Errorf("unexpected ref %+v", ref)
	}
	if out["plain"] != value.String("not a file") {
		t.Errorf("non-path string changed: %v", out["plain"])
	}
	if out["n"] != value.Number(4) {
		t.Errorf("non-string leaf changed: %v", out["n"])
	}
	// Input untouched.
	if _, ok := in["file"].(value.String); !ok {
		t.Error("Annotate mutated its input")
	}
}

func TestAnnotate_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	out := Annotate(value.String(dir))
	if _, ok := out.(value.String); !ok {
		t.Errorf("directory path annotated: %T", out)
	}
}

func TestStrip_InvertsAnnotate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "x")

	in := value.List{value.String(path), value.String("other")}
	out := Strip(Annotate(in))
	if !value.Equal(in, out) {
		t.Errorf("Strip(Annotate(v)) != v: %v", out)
	}
}

func TestDigestView_IgnoresPath(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "same bytes")
	b := writeFile(t, dir, "b.txt", "same bytes")

	va := DigestView(Annotate(value.Map{"in": value.String(a)}))
	vb := DigestView(Annotate(value.Map{"in": value.String(b)}))
	if !value.Equal(va, vb) {
		t.Error("digest views of identical contents under different paths differ")
	}

	c := writeFile(t, dir, "c.txt", "different bytes")
	vc := DigestView(Annotate(value.Map{"in": value.String(c)}))
	if value.Equal(va, vc) {
		t.Error("digest views of different contents collide")
	}
}

func TestVerify_DetectsModifiedAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "out.txt", "v1")

	annotated := Annotate(value.Map{"out": value.String(path)})
	if !Verify(annotated) {
		t.Fatal("fresh annotation failed verification")
	}

	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatalf("rewriting file: %v", err)
	}
	if Verify(annotated) {
		t.Error("verification passed after modification")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing file: %v", err)
	}
	if Verify(annotated) {
		t.Error("verification passed after deletion")
	}
}

func TestVerify_TrivialWithoutRefs(t *testing.T) {
	if !Verify(value.Map{"n": value.Number(1), "s": value.String("no file here")}) {
		t.Error("value without file refs failed verification")
	}
}
