// Package codehash derives stable fingerprints for callable behavior.
//
// A function's fingerprint hashes a go/printer-normalized rendering of
// its signature and body, so formatting, comments, and doc strings do
// not contribute, while any changed operation, constant, or
// invoked-symbol name does. Functions it invokes contribute by name
// only: a callee's internal change is invisible to the caller's
// fingerprint unless the call site is explicitly opted in with Hashable
// (registry.go), in which case the callee's own fingerprint, computed
// under the same rules, is mixed in as an additional input.
//
// Fingerprinting requires the function's source to be present on disk
// at the path recorded at compile time.
package codehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"hash"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
)

// ErrNoSource reports that a function's source could not be located or
// parsed, so no behavioral fingerprint can be derived.
var ErrNoSource = errors.New("function source not available")

// funcNode is a located function definition: the signature and body
// nodes plus the file set and path they were parsed from.
type funcNode struct {
	fset *token.FileSet
	typ  *ast.FuncType
	body *ast.BlockStmt
	file string
}

// Fingerprint computes the behavioral fingerprint of fn.
func Fingerprint(fn any) ([]byte, error) {
	node, err := locate(fn)
	if err != nil {
		return nil, err
	}
	return fingerprintNode(node, map[string]bool{})
}

// Describe returns the declared parameter names of fn, read from its
// source. Unnamed parameters are reported as arg0, arg1, and so on.
func Describe(fn any) ([]string, error) {
	node, err := locate(fn)
	if err != nil {
		return nil, err
	}

	var names []string
	if node.typ.Params != nil {
		for _, field := range node.typ.Params.List {
			if len(field.Names) == 0 {
				names = append(names, fmt.Sprintf("arg%d", len(names)))
				continue
			}
			for _, ident := range field.Names {
				names = append(names, ident.Name)
			}
		}
	}
	return names, nil
}

// locate resolves fn to its source definition via the runtime's
// file/line mapping, then finds the innermost func declaration or
// literal spanning that line.
func locate(fn any) (*funcNode, error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, fmt.Errorf("not a function: %T", fn)
	}

	rf := runtime.FuncForPC(rv.Pointer())
	if rf == nil {
		return nil, ErrNoSource
	}
	file, line := rf.FileLine(rf.Entry())
	if file == "" {
		return nil, ErrNoSource
	}

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrNoSource, file, err)
	}

	var (
		bestTyp   *ast.FuncType
		bestBody  *ast.BlockStmt
		bestStart = -1
	)
	ast.Inspect(parsed, func(n ast.Node) bool {
		var typ *ast.FuncType
		var body *ast.BlockStmt
		switch d := n.(type) {
		case *ast.FuncDecl:
			typ, body = d.Type, d.Body
		case *ast.FuncLit:
			typ, body = d.Type, d.Body
		default:
			return true
		}
		if body == nil {
			return true
		}
		start := fset.Position(n.Pos()).Line
		end := fset.Position(n.End()).Line
		// Innermost candidate: the greatest start line still spanning
		// the runtime-reported line.
		if start <= line && line <= end && start >= bestStart {
			bestTyp, bestBody, bestStart = typ, body, start
		}
		return true
	})

	if bestBody == nil {
		return nil, fmt.Errorf("%w: no function at %s:%d", ErrNoSource, file, line)
	}
	return &funcNode{fset: fset, typ: bestTyp, body: bestBody, file: file}, nil
}

// fingerprintNode hashes the normalized rendering of a located function
// plus the fingerprints of its deep-marked callees.
//
// visited guards against recursive deep marks: a symbol already on the
// current resolution path degrades to name-only instead of looping.
func fingerprintNode(node *funcNode, visited map[string]bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, node.fset, node.typ); err != nil {
		return nil, fmt.Errorf("normalizing signature: %w", err)
	}
	buf.WriteByte('\n')
	if err := printer.Fprint(&buf, node.fset, node.body); err != nil {
		return nil, fmt.Errorf("normalizing body: %w", err)
	}

	deep := collectDeepCallees(node.body)

	names := make([]string, 0, len(deep))
	for name := range deep {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	writeField(h, buf.Bytes())
	for _, name := range names {
		digest, err := resolveAndFingerprint(node, name, visited)
		if err != nil {
			return nil, err
		}
		if digest == nil {
			// Unresolvable or already being resolved: the symbol name in
			// the normalized body is its only contribution.
			continue
		}
		writeField(h, []byte(name))
		writeField(h, digest)
	}
	return h.Sum(nil), nil
}

// collectDeepCallees returns the set of callee names marked for deep
// hashing inside body, through either the inline Hashable(f)(...) form
// or a call to a symbol registered via Hashable.
func collectDeepCallees(body *ast.BlockStmt) map[string]bool {
	deep := make(map[string]bool)
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if isHashableRef(call.Fun) && len(call.Args) == 1 {
			if name, ok := calleeName(call.Args[0]); ok {
				deep[name] = true
			}
			return true
		}
		if name, ok := calleeName(call.Fun); ok && registered(name) {
			deep[name] = true
		}
		return true
	})
	return deep
}

// isHashableRef matches a reference to the Hashable marker, written
// bare or package-qualified.
func isHashableRef(e ast.Expr) bool {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name == "Hashable"
	case *ast.SelectorExpr:
		return t.Sel.Name == "Hashable"
	case *ast.IndexExpr:
		// Explicit instantiation: Hashable[func(int) int](f).
		return isHashableRef(t.X)
	}
	return false
}

// calleeName extracts the written name of a called expression. Only
// plain identifiers and selector tails are resolvable.
func calleeName(e ast.Expr) (string, bool) {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name, true
	case *ast.SelectorExpr:
		return t.Sel.Name, true
	}
	return "", false
}

// resolveAndFingerprint maps a deep-marked callee name to its
// definition and fingerprints it. Resolution order: the Hashable
// registry, then top-level func declarations in the caller's package
// directory. Returns (nil, nil) when the name cannot be resolved.
func resolveAndFingerprint(caller *funcNode, name string, visited map[string]bool) ([]byte, error) {
	if fn, ok := lookupRegistered(name); ok {
		key := "registry:" + name
		if visited[key] {
			return nil, nil
		}
		visited[key] = true
		defer delete(visited, key)

		node, err := locate(fn)
		if err != nil {
			if errors.Is(err, ErrNoSource) {
				return nil, nil
			}
			return nil, err
		}
		return fingerprintNode(node, visited)
	}

	node, err := resolveInPackage(filepath.Dir(caller.file), name)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	key := node.file + ":" + name
	if visited[key] {
		return nil, nil
	}
	visited[key] = true
	defer delete(visited, key)
	return fingerprintNode(node, visited)
}

// resolveInPackage scans the Go files in dir for a top-level function
// declaration with the given name. Returns nil when absent.
func resolveInPackage(dir, name string) (*funcNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		fset := token.NewFileSet()
		parsed, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			continue
		}
		for _, decl := range parsed.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv != nil || fd.Body == nil {
				continue
			}
			if fd.Name.Name == name {
				return &funcNode{fset: fset, typ: fd.Type, body: fd.Body, file: path}, nil
			}
		}
	}
	return nil, nil
}

// writeField writes a length-prefixed field so adjacent fields can
// never be confused for one another.
func writeField(h hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
}
