package stage

import (
	"go.uber.org/zap"

	"stageweaver/internal/cache"
)

// Option configures a Stage at construction time.
type Option func(*Stage)

// WithName overrides the stage name (default: the wrapped function's
// name, or the command word for command stages). The name keys the
// cache artifacts.
func WithName(name string) Option {
	return func(s *Stage) { s.name = name }
}

// WithOutputs declares the logical output names. Order defines the
// positional mapping from a multi-value return. Default: ["output"].
func WithOutputs(names ...string) Option {
	return func(s *Stage) {
		s.outputs = append([]string(nil), names...)
		s.outputsDefaulted = false
	}
}

// WithAliases renames output keys for downstream consumers. Keys are
// declared output names, values are the exposed names.
func WithAliases(aliases map[string]string) Option {
	return func(s *Stage) {
		for k, v := range aliases {
			s.aliases[k] = v
		}
	}
}

// WithStatic binds a parameter to a fixed value. Static bindings
// override any same-named runtime input unconditionally.
func WithStatic(name string, v any) Option {
	return func(s *Stage) { s.statics[name] = v }
}

// WithStatics binds several static parameters at once.
func WithStatics(statics map[string]any) Option {
	return func(s *Stage) {
		for k, v := range statics {
			s.statics[k] = v
		}
	}
}

// WithInputs overrides the parameter names read from source. Required
// when the function's source is unavailable.
func WithInputs(names ...string) Option {
	return func(s *Stage) { s.inputs = append([]string(nil), names...) }
}

// WithCacheDir enables memoization, persisting the artifact triple
// under dir. Without a cache directory the stage always executes and
// inputs/outputs carry no serializability constraint.
func WithCacheDir(dir string) Option {
	return func(s *Stage) { s.cacheDir = dir }
}

// WithStore supplies a cache.Store directly, taking precedence over
// WithCacheDir.
func WithStore(store cache.Store) Option {
	return func(s *Stage) { s.store = store }
}

// WithLogger attaches a logger. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Stage) {
		if log != nil {
			s.log = log
		}
	}
}

// ForceRun makes every Run invoke the callable even on a cache hit.
// Takes precedence over ForceSkip.
func ForceRun() Option {
	return func(s *Stage) { s.forceRun = true }
}

// ForceSkip makes every Run skip execution, returning cached outputs
// when a valid entry exists and an empty mapping otherwise.
func ForceSkip() Option {
	return func(s *Stage) { s.forceSkip = true }
}

// WithArgs sets static leading command-line arguments (command stages).
// Runtime positional inputs are appended after them.
func WithArgs(args ...any) Option {
	return func(s *Stage) { s.commandArgs = append([]any(nil), args...) }
}

// WithScripts declares dependent script paths whose contents are part
// of the command's code fingerprint (command stages).
func WithScripts(paths ...string) Option {
	return func(s *Stage) { s.scripts = append([]string(nil), paths...) }
}

// WithExpectedOutputs declares files the command must produce (command
// stages). Each is exposed as output0, output1, ... and is
// hash-verified before a skip is accepted.
func WithExpectedOutputs(paths ...string) Option {
	return func(s *Stage) { s.expectedOutputs = append([]string(nil), paths...) }
}

// WithKillOnFailure terminates the host process with the command's exit
// code on non-zero exit (command stages).
func WithKillOnFailure() Option {
	return func(s *Stage) { s.killOnFailure = true }
}
