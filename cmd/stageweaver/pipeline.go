package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stageweaver/internal/pipeline"
	"stageweaver/internal/stage"
	"stageweaver/internal/value"
)

// pipelineConfig is the on-disk pipeline definition.
type pipelineConfig struct {
	CacheDir string        `yaml:"cache_dir,omitempty"`
	Stages   []stageConfig `yaml:"stages"`
}

type stageConfig struct {
	Name          string            `yaml:"name"`
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args,omitempty"`
	Scripts       []string          `yaml:"scripts,omitempty"`
	Outputs       []string          `yaml:"outputs,omitempty"`
	Aliases       map[string]string `yaml:"aliases,omitempty"`
	From          []string          `yaml:"from,omitempty"`
	KillOnFailure bool              `yaml:"kill_on_failure,omitempty"`
}

func runPipeline(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(pipelineFile)
	if err != nil {
		return fmt.Errorf("reading pipeline definition: %w", err)
	}
	var cfg pipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", pipelineFile, err)
	}

	links := make([]pipeline.Link, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		s, err := buildStage(sc, cfg.CacheDir)
		if err != nil {
			return err
		}
		if len(sc.From) == 0 {
			links = append(links, pipeline.Root(s))
		} else {
			links = append(links, pipeline.Feed(s, sc.From...))
		}
	}

	p, err := pipeline.New(links, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	results, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}

	vals, err := value.FromGoMap(results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	out, err := value.EncodeIndent(vals)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func buildStage(sc stageConfig, cacheDir string) (*stage.Stage, error) {
	if sc.Name == "" {
		return nil, fmt.Errorf("pipeline stage with command %q has no name", sc.Command)
	}

	cmdArgs := make([]any, 0, len(sc.Args))
	for _, a := range sc.Args {
		cmdArgs = append(cmdArgs, a)
	}
	opts := []stage.Option{
		stage.WithName(sc.Name),
		stage.WithArgs(cmdArgs...),
		stage.WithScripts(sc.Scripts...),
		stage.WithExpectedOutputs(sc.Outputs...),
		stage.WithLogger(logger),
	}
	if len(sc.Aliases) > 0 {
		opts = append(opts, stage.WithAliases(sc.Aliases))
	}
	if cacheDir != "" {
		opts = append(opts, stage.WithCacheDir(cacheDir))
	}
	if sc.KillOnFailure {
		opts = append(opts, stage.WithKillOnFailure())
	}
	return stage.NewCommand(sc.Command, opts...)
}
