// Package stage implements the memoized unit of work: a callable or
// external command bound to static parameters, declared output names,
// and an optional alias map, with the skip/execute decision driven by
// the fingerprint cache.
package stage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"stageweaver/internal/cache"
	"stageweaver/internal/codehash"
	"stageweaver/internal/sentinel"
	"stageweaver/internal/value"
)

// ErrArity reports that the declared output names do not match the
// callable's actual return arity. This is a usage error and is never
// silently truncated or padded over.
var ErrArity = errors.New("declared outputs do not match return arity")

type stageKind int

const (
	kindFunc stageKind = iota
	kindCommand
)

// Stage is a memoized unit of work. Construct once with New or
// NewCommand; Run any number of times. Each invocation is independent
// and stateless aside from the persisted cache artifacts and the
// last-run accessors (Results, HasRun, FromCache).
type Stage struct {
	name string
	kind stageKind

	// Function stages.
	fn       any
	fnType   fnSignature
	inputs   []string
	statics  map[string]any

	// Command stages.
	command         string
	commandArgs     []any
	scripts         []string
	expectedOutputs []string
	killOnFailure   bool

	outputs          []string
	outputsDefaulted bool
	aliases          map[string]string

	cacheDir string
	store    cache.Store

	forceRun  bool
	forceSkip bool

	log *zap.Logger

	results   map[string]any
	hasRun    bool
	fromCache bool
}

// New wraps a Go function as a Stage.
//
// Parameter names are read from the function's source; pass WithInputs
// to override them (required when the source is unavailable). Anonymous
// functions need WithName. Variadic functions are not supported.
func New(fn any, opts ...Option) (*Stage, error) {
	sig, err := describeFn(fn)
	if err != nil {
		return nil, err
	}

	s := &Stage{
		kind:    kindFunc,
		fn:      fn,
		fnType:  sig,
		statics: make(map[string]any),
		aliases: make(map[string]string),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.name == "" {
		s.name = codehash.FuncName(fn)
	}
	if err := s.finishInit(); err != nil {
		return nil, err
	}

	if len(s.inputs) == 0 {
		s.inputs, err = defaultInputNames(fn, sig)
		if err != nil {
			return nil, err
		}
	}
	if len(s.inputs) != sig.numDataParams() {
		return nil, fmt.Errorf("stage %q: %d input names declared for %d parameters",
			s.name, len(s.inputs), sig.numDataParams())
	}
	for k := range s.statics {
		if !contains(s.inputs, k) {
			return nil, fmt.Errorf("stage %q: static binding %q is not a parameter (parameters: %s)",
				s.name, k, strings.Join(s.inputs, ", "))
		}
	}
	return s, nil
}

// finishInit applies defaults shared by both constructors and validates
// the parts every stage has.
func (s *Stage) finishInit() error {
	if s.name == "" {
		return errors.New("stage name required (anonymous callable)")
	}
	if strings.ContainsAny(s.name, "/\\") {
		return fmt.Errorf("stage name %q must not contain path separators", s.name)
	}
	if len(s.outputs) == 0 {
		s.outputs = defaultOutputNames(s)
		s.outputsDefaulted = true
	}
	seen := make(map[string]bool, len(s.outputs))
	for _, o := range s.outputs {
		if o == "" {
			return fmt.Errorf("stage %q: empty output name", s.name)
		}
		if seen[o] {
			return fmt.Errorf("stage %q: duplicate output name %q", s.name, o)
		}
		seen[o] = true
	}
	for from := range s.aliases {
		if !seen[from] {
			return fmt.Errorf("stage %q: alias source %q is not a declared output", s.name, from)
		}
	}
	if s.store == nil && s.cacheDir != "" {
		s.store = cache.NewDirStore(s.cacheDir, s.log)
	}
	return nil
}

func defaultOutputNames(s *Stage) []string {
	if s.kind == kindCommand && len(s.expectedOutputs) > 0 {
		names := []string{"output"}
		for i := range s.expectedOutputs {
			names = append(names, fmt.Sprintf("output%d", i))
		}
		return names
	}
	return []string{"output"}
}

// Name returns the stage's cache-artifact name.
func (s *Stage) Name() string { return s.name }

// InputNames returns the declared parameter names. Command stages bind
// inputs positionally (arg0, arg1, ...) and return nil.
func (s *Stage) InputNames() []string {
	if s.kind == kindCommand {
		return nil
	}
	out := make([]string, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// OutputNames returns the declared output names, before aliasing.
func (s *Stage) OutputNames() []string {
	out := make([]string, len(s.outputs))
	copy(out, s.outputs)
	return out
}

// AcceptsInput reports whether the stage can bind a named input. Used
// by the pipeline when routing upstream outputs.
func (s *Stage) AcceptsInput(name string) bool {
	if s.kind == kindCommand {
		_, ok := argIndex(name)
		return ok
	}
	return contains(s.inputs, name)
}

// Results returns the output mapping from the most recent Run.
func (s *Stage) Results() map[string]any {
	out := make(map[string]any, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// HasRun reports whether the most recent Run invoked the callable.
func (s *Stage) HasRun() bool { return s.hasRun }

// FromCache reports whether the most recent Run was satisfied from the
// cache without invoking the callable.
func (s *Stage) FromCache() bool { return s.fromCache }

// Run executes the stage with positional inputs, or skips execution and
// returns the cached output mapping when nothing relevant has changed.
func (s *Stage) Run(ctx context.Context, args ...any) (map[string]any, error) {
	return s.RunNamed(ctx, nil, args...)
}

// RunNamed executes the stage with named and positional inputs.
// Positional inputs bind to declared parameter names left to right,
// named inputs bind by name, and static bindings override both
// unconditionally.
func (s *Stage) RunNamed(ctx context.Context, named map[string]any, args ...any) (map[string]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.hasRun = false
	s.fromCache = false

	merged, err := s.mergeInputs(named, args)
	if err != nil {
		return nil, err
	}

	caching := s.store != nil
	var (
		annotatedIn value.Map
		inputFP     []byte
		codeFP      []byte
	)
	if caching {
		vals, err := value.FromGoMap(merged)
		if err != nil {
			return nil, fmt.Errorf("stage %q: inputs not serializable: %w", s.name, err)
		}
		annotatedIn = sentinel.Annotate(vals).(value.Map)
		inputFP, err = value.Digest(sentinel.DigestView(annotatedIn))
		if err != nil {
			return nil, fmt.Errorf("stage %q: fingerprinting inputs: %w", s.name, err)
		}
		codeFP, err = s.codeFingerprint()
		if err != nil {
			return nil, fmt.Errorf("stage %q: fingerprinting code: %w", s.name, err)
		}
	}

	shouldRun := true
	var cached value.Map
	if caching {
		if out, ok := s.store.Lookup(s.name, inputFP, codeFP); ok {
			if s.verifyCached(out) {
				cached = out
				shouldRun = false
			} else {
				s.log.Info("cached outputs failed verification",
					zap.String("stage", s.name))
			}
		}
	}
	if s.forceSkip {
		s.log.Info("force skipping stage", zap.String("stage", s.name))
		shouldRun = false
	}
	if s.forceRun {
		s.log.Info("force running stage", zap.String("stage", s.name))
		shouldRun = true
	}

	if !shouldRun {
		s.log.Info("skipping stage execution", zap.String("stage", s.name))
		if cached == nil {
			s.results = map[string]any{}
			return s.Results(), nil
		}
		s.results = value.ToGoMap(sentinel.Strip(cached).(value.Map))
		s.fromCache = true
		return s.Results(), nil
	}

	s.log.Info("running stage", zap.String("stage", s.name))
	returns, err := s.invoke(ctx, merged)
	if err != nil {
		return nil, err
	}
	results, err := s.mapOutputs(returns)
	if err != nil {
		return nil, err
	}
	results = s.applyAliases(results)

	if caching {
		outVals, err := value.FromGoMap(results)
		if err != nil {
			return nil, fmt.Errorf("stage %q: outputs not serializable: %w", s.name, err)
		}
		annotatedOut := sentinel.Annotate(outVals).(value.Map)
		if err := s.store.Store(s.name, annotatedIn, codeFP, annotatedOut); err != nil {
			return nil, fmt.Errorf("stage %q: persisting cache artifacts: %w", s.name, err)
		}
	}

	s.results = results
	s.hasRun = true
	return s.Results(), nil
}

// mergeInputs combines positional and named runtime inputs with the
// stage's static bindings; statics win unconditionally.
func (s *Stage) mergeInputs(named map[string]any, args []any) (map[string]any, error) {
	if s.kind == kindCommand {
		return s.mergeCommandInputs(named, args)
	}

	if len(args) > len(s.inputs) {
		return nil, fmt.Errorf("stage %q: %d positional inputs for %d parameters",
			s.name, len(args), len(s.inputs))
	}
	merged := make(map[string]any, len(s.inputs))
	for i, a := range args {
		merged[s.inputs[i]] = a
	}
	for k, v := range named {
		if !contains(s.inputs, k) {
			return nil, fmt.Errorf("stage %q: unknown input %q (parameters: %s)",
				s.name, k, strings.Join(s.inputs, ", "))
		}
		merged[k] = v
	}
	for k, v := range s.statics {
		merged[k] = v
	}
	return merged, nil
}

// codeFingerprint derives the stage's code identity.
func (s *Stage) codeFingerprint() ([]byte, error) {
	if s.kind == kindCommand {
		return codehash.FingerprintCommand(s.command, s.scripts)
	}
	return codehash.Fingerprint(s.fn)
}

// verifyCached checks a cached output mapping before accepting a skip:
// every declared output key (after aliasing) must be present, and every
// file reference must still be hash-stable on disk. Catches outputs the
// user deleted, moved, or modified since the cached run.
func (s *Stage) verifyCached(outputs value.Map) bool {
	for _, o := range s.outputs {
		name := o
		if alias, ok := s.aliases[o]; ok {
			name = alias
		}
		if _, ok := outputs[name]; !ok {
			s.log.Debug("cached outputs missing declared key",
				zap.String("stage", s.name), zap.String("key", name))
			return false
		}
	}
	if !sentinel.Verify(outputs) {
		s.log.Debug("cached output file changed on disk", zap.String("stage", s.name))
		return false
	}
	return true
}

// mapOutputs zips the callable's return values onto the declared output
// names. A single return maps to the single declared name; a
// multi-value return maps left to right.
func (s *Stage) mapOutputs(returns []any) (map[string]any, error) {
	if len(returns) == 0 && s.outputsDefaulted && len(s.outputs) == 1 {
		return map[string]any{s.outputs[0]: nil}, nil
	}
	if len(returns) != len(s.outputs) {
		return nil, fmt.Errorf("stage %q: %w: %d declared, %d returned",
			s.name, ErrArity, len(s.outputs), len(returns))
	}
	out := make(map[string]any, len(returns))
	for i, name := range s.outputs {
		out[name] = returns[i]
	}
	return out, nil
}

// applyAliases renames output keys per the alias map.
func (s *Stage) applyAliases(results map[string]any) map[string]any {
	if len(s.aliases) == 0 {
		return results
	}
	out := make(map[string]any, len(results))
	for k, v := range results {
		if alias, ok := s.aliases[k]; ok {
			k = alias
		}
		out[k] = v
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// sortedKeys is shared by logging and command argv reconstruction.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
