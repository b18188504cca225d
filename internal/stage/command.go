package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// NewCommand wraps an external command as a Stage under the same
// fingerprint/cache contract as in-process functions.
//
// Inputs are the command-line arguments: static leading arguments from
// WithArgs, then runtime positional inputs, addressable by name as
// arg0, arg1, ... The code fingerprint covers the resolved executable
// and every WithScripts dependency. The first declared output "output"
// is the exit code; WithExpectedOutputs paths follow as output0,
// output1, ... and are hash-verified before a skip is accepted, which
// also suppresses the command's side effects on a skip.
func NewCommand(command string, opts ...Option) (*Stage, error) {
	if command == "" {
		return nil, errors.New("command required")
	}

	s := &Stage{
		kind:    kindCommand,
		command: command,
		statics: make(map[string]any),
		aliases: make(map[string]string),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.name == "" {
		s.name = filepath.Base(command)
	}
	if err := s.finishInit(); err != nil {
		return nil, err
	}
	if want := 1 + len(s.expectedOutputs); len(s.outputs) != want {
		return nil, fmt.Errorf("stage %q: %d output names declared for exit code plus %d expected files",
			s.name, len(s.outputs), len(s.expectedOutputs))
	}
	return s, nil
}

// mergeCommandInputs builds the argN input mapping: static arguments
// first, runtime positional inputs appended, named argN inputs
// overriding by index.
func (s *Stage) mergeCommandInputs(named map[string]any, args []any) (map[string]any, error) {
	merged := make(map[string]any, len(s.commandArgs)+len(args)+len(named))
	for i, a := range s.commandArgs {
		merged[fmt.Sprintf("arg%d", i)] = a
	}
	offset := len(s.commandArgs)
	for i, a := range args {
		merged[fmt.Sprintf("arg%d", offset+i)] = a
	}
	for k, v := range named {
		if _, ok := argIndex(k); !ok {
			return nil, fmt.Errorf("stage %q: command inputs must be named argN, got %q", s.name, k)
		}
		merged[k] = v
	}
	return merged, nil
}

// invokeCommand spawns the command with the reconstructed argv,
// passing through the caller's standard streams.
func (s *Stage) invokeCommand(ctx context.Context, merged map[string]any) ([]any, error) {
	argv, err := s.buildArgv(merged)
	if err != nil {
		return nil, err
	}

	s.log.Info("executing command",
		zap.String("stage", s.name),
		zap.String("command", s.command),
		zap.Strings("args", argv))

	cmd := exec.CommandContext(ctx, s.command, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("stage %q: starting command %q: %w", s.name, s.command, err)
		}
		exitCode = exitErr.ExitCode()
	}

	if exitCode != 0 && s.killOnFailure {
		s.log.Error("command failed, terminating",
			zap.String("stage", s.name), zap.Int("exit_code", exitCode))
		_ = s.log.Sync()
		os.Exit(exitCode)
	}

	returns := make([]any, 0, 1+len(s.expectedOutputs))
	returns = append(returns, exitCode)
	for _, p := range s.expectedOutputs {
		returns = append(returns, p)
	}
	return returns, nil
}

// buildArgv reconstructs the positional argument vector from the argN
// mapping; indices must be contiguous from zero.
func (s *Stage) buildArgv(merged map[string]any) ([]string, error) {
	argv := make([]string, len(merged))
	for _, k := range sortedKeys(merged) {
		idx, ok := argIndex(k)
		if !ok || idx >= len(argv) {
			return nil, fmt.Errorf("stage %q: non-contiguous command argument %q", s.name, k)
		}
		argv[idx] = formatArg(merged[k])
	}
	return argv, nil
}

// argIndex parses an argN input name.
func argIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "arg")
	if !ok || rest == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func formatArg(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}
