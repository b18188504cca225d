package codehash

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// deepRegistry maps short symbol names to functions whose call sites
// should contribute the callee's own fingerprint.
var deepRegistry = struct {
	mu  sync.RWMutex
	fns map[string]any
}{fns: make(map[string]any)}

// Hashable marks fn for deep hashing and returns it unchanged, so it is
// transparent at call time. A caller's fingerprint picks up the mark in
// two ways: calling the result of an inline Hashable(f)(...) wrap, or
// calling any symbol previously registered by passing it through
// Hashable (typically at package variable initialization).
//
// The mark applies one level at a time: f's callees stay name-only
// unless they are themselves explicitly marked. Resolution is by symbol
// name, so closures must use the inline form.
//
// Marking a recursive function does not loop; the repeated occurrence
// degrades to name-only.
func Hashable[F any](fn F) F {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		panic("codehash: Hashable requires a non-nil function")
	}

	if rf := runtime.FuncForPC(rv.Pointer()); rf != nil {
		if short := shortSymbolName(rf.Name()); short != "" {
			deepRegistry.mu.Lock()
			deepRegistry.fns[short] = fn
			deepRegistry.mu.Unlock()
		}
	}
	return fn
}

// FuncName returns the short written name of fn, or "" for closures and
// other symbols without a stable written name.
func FuncName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return ""
	}
	rf := runtime.FuncForPC(rv.Pointer())
	if rf == nil {
		return ""
	}
	return shortSymbolName(rf.Name())
}

func registered(name string) bool {
	deepRegistry.mu.RLock()
	defer deepRegistry.mu.RUnlock()
	_, ok := deepRegistry.fns[name]
	return ok
}

func lookupRegistered(name string) (any, bool) {
	deepRegistry.mu.RLock()
	defer deepRegistry.mu.RUnlock()
	fn, ok := deepRegistry.fns[name]
	return fn, ok
}

// shortSymbolName reduces a runtime symbol like
// "stageweaver/internal/codehash.helper" to "helper". Generated closure
// symbols (".func1" suffixes) have no stable written name and yield "".
func shortSymbolName(full string) string {
	short := full
	if i := strings.LastIndex(short, "/"); i >= 0 {
		short = short[i+1:]
	}
	if i := strings.LastIndex(short, "."); i >= 0 {
		short = short[i+1:]
	}
	if short == "" || strings.HasPrefix(short, "func") {
		return ""
	}
	return short
}
