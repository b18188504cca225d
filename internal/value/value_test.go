package value

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode_DeterministicAcrossInsertionOrder(t *testing.T) {
	a := Map{"x": Number(1), "y": String("two"), "z": List{Bool(true), Null{}}}
	b := Map{"z": List{Bool(true), Null{}}, "y": String("two"), "x": Number(1)}

	ea, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Errorf("encodings differ:\n%s\n%s", ea, eb)
	}
}

func TestEncode_SortsKeys(t *testing.T) {
	m := Map{"b": Number(2), "a": Number(1), "c": Number(3)}
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"a":1,"b":2,"c":3}`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestEncode_IntegralFloatsHaveNoFraction(t *testing.T) {
	raw, err := Encode(Number(3))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(raw) != "3" {
		t.Errorf("got %s, want 3", raw)
	}
}

func TestDecode_RoundTripsEncode(t *testing.T) {
	v := Map{
		"nested": Map{"list": List{Number(1.5), String("s"), Null{}, Bool(false)}},
		"file":   FileRef{Path: "/tmp/data.txt", Hash: "abc123"},
	}
	raw, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !Equal(v, back) {
		t.Errorf("round trip changed value:\n%s", cmp.Diff(v, back))
	}

	dv, err := Digest(v)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	db, err := Digest(back)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !bytes.Equal(dv, db) {
		t.Error("digest changed across a round trip")
	}
}

func TestDecode_FileRefShape(t *testing.T) {
	v, err := Decode([]byte(`{"file":"/tmp/x","hash":"deadbeef"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	ref, ok := v.(FileRef)
	if !ok {
		t.Fatalf("got %T, want FileRef", v)
	}
	if ref.Path != "/tmp/x" || ref.Hash != "deadbeef" {
		t.Errorf("got %+v", ref)
	}
}

func TestDecode_NearFileRefShapesStayMaps(t *testing.T) {
	cases := []string{
		`{"file":"/tmp/x"}`,
		`{"file":"/tmp/x","hash":"h","extra":1}`,
		`{"file":"/tmp/x","hash":2}`,
	}
	for _, raw := range cases {
		v, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", raw, err)
		}
		if _, ok := v.(Map); !ok {
			t.Errorf("Decode(%s) = %T, want Map", raw, v)
		}
	}
}

func TestDigest_EqualValuesEqualDigests(t *testing.T) {
	a := Map{"k": List{Number(1), Number(2)}}
	b := Map{"k": List{Number(1), Number(2)}}
	da, err := Digest(a)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	db, err := Digest(b)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !bytes.Equal(da, db) {
		t.Error("digests of equal values differ")
	}

	c := Map{"k": List{Number(2), Number(1)}}
	dc, err := Digest(c)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if bytes.Equal(da, dc) {
		t.Error("digests of different values collide")
	}
}

func TestFromGo_AcceptsNativesAndValues(t *testing.T) {
	got, err := FromGo(map[string]any{
		"n":    int32(7),
		"s":    "str",
		"l":    []any{1, "two", nil},
		"pre":  String("already a value"),
		"null": nil,
	})
	if err != nil {
		t.Fatalf("FromGo failed: %v", err)
	}
	want := Map{
		"n":    Number(7),
		"s":    String("str"),
		"l":    List{Number(1), String("two"), Null{}},
		"pre":  String("already a value"),
		"null": Null{},
	}
	if !Equal(got, want) {
		t.Errorf("FromGo mismatch:\n%s", cmp.Diff(want, got))
	}
}

func TestFromGo_RejectsUnrepresentable(t *testing.T) {
	if _, err := FromGo(func() {}); err == nil {
		t.Error("expected error for func value")
	}
	if _, err := FromGo(map[int]string{1: "x"}); err == nil {
		t.Error("expected error for non-string map keys")
	}
	if _, err := FromGo(make(chan int)); err == nil {
		t.Error("expected error for channel")
	}
}

func TestToGo_FileRefErasesToPath(t *testing.T) {
	got := ToGo(Map{"f": FileRef{Path: "/data/a.txt", Hash: "h"}})
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map", got)
	}
	if m["f"] != "/data/a.txt" {
		t.Errorf("got %v, want path string", m["f"])
	}
}
