package value

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// Encode renders a Value as canonical JSON bytes: map keys sorted,
// no insignificant whitespace, shortest round-tripping float form.
//
// The encoding is deterministic: structurally equal Values always
// produce identical bytes, regardless of map insertion order. It is the
// pre-image for Digest and the on-disk format of cache artifacts.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeIndent renders the canonical encoding with indentation for the
// human-inspectable artifact files.
func EncodeIndent(v Value) ([]byte, error) {
	raw, err := Encode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		// encoding/json's float formatting is the shortest form that
		// round-trips, which keeps decode(encode(v)) byte-stable.
		b, err := json.Marshal(float64(t))
		if err != nil {
			return fmt.Errorf("encoding number: %w", err)
		}
		buf.Write(b)
	case String:
		b, err := json.Marshal(string(t))
		if err != nil {
			return fmt.Errorf("encoding string: %w", err)
		}
		buf.Write(b)
	case FileRef:
		return encode(buf, Map{"file": String(t.Path), "hash": String(t.Hash)})
	case List:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Map:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("encoding key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %T", v)
	}
	return nil
}

// Decode parses JSON bytes into a Value. It is the left inverse of
// Encode. An object with exactly the two string-valued keys "file" and
// "hash" decodes as a FileRef.
func Decode(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding canonical value: %w", err)
	}
	return fromDecoded(raw)
}

func fromDecoded(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case []any:
		list := make(List, len(t))
		for i, e := range t {
			ev, err := fromDecoded(e)
			if err != nil {
				return nil, err
			}
			list[i] = ev
		}
		return list, nil
	case map[string]any:
		if ref, ok := asFileRef(t); ok {
			return ref, nil
		}
		m := make(Map, len(t))
		for k, e := range t {
			ev, err := fromDecoded(e)
			if err != nil {
				return nil, err
			}
			m[k] = ev
		}
		return m, nil
	}
	return nil, fmt.Errorf("unexpected decoded type %T", raw)
}

func asFileRef(m map[string]any) (FileRef, bool) {
	if len(m) != 2 {
		return FileRef{}, false
	}
	path, ok := m["file"].(string)
	if !ok {
		return FileRef{}, false
	}
	hash, ok := m["hash"].(string)
	if !ok {
		return FileRef{}, false
	}
	return FileRef{Path: path, Hash: hash}, true
}

// Digest returns the sha256 of the canonical encoding. Structurally
// equal Values yield identical digests; any structural difference
// yields, with overwhelming probability, a different one.
func Digest(v Value) ([]byte, error) {
	raw, err := Encode(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}
