// Command stageweaver memoizes external commands and runs YAML-defined
// stage pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stageweaver/internal/logging"
	"stageweaver/internal/stage"
)

var (
	verbose bool
	logFile string
	logger  *zap.Logger

	// run flags
	cacheDir  string
	scripts   []string
	outputs   []string
	stageName string
	kill      bool

	// pipeline flags
	pipelineFile string
)

var rootCmd = &cobra.Command{
	Use:   "stageweaver",
	Short: "Checksum-driven command memoization and pipelines",
	Long: `stageweaver memoizes the inputs and outputs of commands and detects
changes to them through sha256 checksums. If a command's hash changes,
or if any of its inputs or outputs change, stageweaver reruns it;
otherwise execution is skipped.

Command changes are detected through checksums of the executable only,
so dependent scripts a command calls must be listed with -s/--scripts
or their edits will not trigger a rerun. The -o/--outputs flag declares
expected output files, which are integrity-checked before a skip (e.g.
a moved, renamed, or modified output forces a rerun).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if logFile != "" {
			logger, err = logging.NewFile(logFile, verbose)
		} else {
			logger, err = logging.New(verbose)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a single command under memoization",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCommand,
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline -f pipeline.yaml",
	Short: "Run a YAML-defined pipeline of command stages",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print per-artifact skip/rerun reasons")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "tee log output to this file")

	runCmd.Flags().StringVarP(&cacheDir, "cache-dir", "d", "", "directory to write fingerprint artifacts to (default: no memoization)")
	runCmd.Flags().StringArrayVarP(&scripts, "scripts", "s", nil, "dependent scripts/commands the command calls")
	runCmd.Flags().StringArrayVarP(&outputs, "outputs", "o", nil, "expected output files of the command")
	runCmd.Flags().StringVarP(&stageName, "name", "n", "", "alternative name for fingerprint artifacts (default: command name)")
	runCmd.Flags().BoolVarP(&kill, "kill", "k", false, "terminate immediately on non-zero exit")

	pipelineCmd.Flags().StringVarP(&pipelineFile, "file", "f", "pipeline.yaml", "pipeline definition file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pipelineCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	command := args[0]
	cmdArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		cmdArgs = append(cmdArgs, a)
	}

	opts := []stage.Option{
		stage.WithArgs(cmdArgs...),
		stage.WithScripts(scripts...),
		stage.WithExpectedOutputs(outputs...),
		stage.WithLogger(logger),
	}
	if cacheDir != "" {
		opts = append(opts, stage.WithCacheDir(cacheDir))
	}
	if stageName != "" {
		opts = append(opts, stage.WithName(stageName))
	}
	if kill {
		opts = append(opts, stage.WithKillOnFailure())
	}

	s, err := stage.NewCommand(command, opts...)
	if err != nil {
		return err
	}
	results, err := s.Run(cmd.Context())
	if err != nil {
		return err
	}

	code := exitCode(results["output"])
	if code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
	return nil
}

// exitCode reads the exit-code output, which is an int from a live run
// and a float64 when replayed from the cache.
func exitCode(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
