// Package pipeline composes stages into a validated DAG and runs them
// in a deterministic topological order, routing each stage's outputs to
// downstream stages by name.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"stageweaver/internal/stage"
)

// Link is one scheduled stage and its data sources. Construct with Root
// or Feed.
type Link struct {
	Stage *stage.Stage

	// From names the producer stages whose results feed this stage, in
	// declaration order. Empty only for root links.
	From []string

	root bool
}

// Root schedules a stage fed by the pipeline's own run arguments.
func Root(s *stage.Stage) Link {
	return Link{Stage: s, root: true}
}

// Feed schedules a stage fed by the named producers' results.
func Feed(s *stage.Stage, from ...string) Link {
	return Link{Stage: s, From: from}
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithLogger attaches a logger. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// Pipeline is an immutable, validated stage DAG. Validation runs at
// construction; Run must not fail for graph-structural reasons.
type Pipeline struct {
	links   []Link
	indexOf map[string]int // stage name -> link index

	outgoing [][]int // by link index, sorted ascending
	indeg    []int   // by link index
	order    []int   // deterministic topological order

	log *zap.Logger

	results map[string]any
}

// New builds and validates a Pipeline.
//
// Validation rejects nil stages, duplicate stage names, links fed by
// unknown or unscheduled stages, stages that are neither root nor fed,
// self-feeds, duplicate feeds, and any cycle.
func New(links []Link, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if len(links) == 0 {
		return nil, invalidf("no stages scheduled")
	}

	p.links = append([]Link(nil), links...)
	p.indexOf = make(map[string]int, len(links))
	for i, l := range p.links {
		if l.Stage == nil {
			return nil, invalidf("nil stage at position %d", i)
		}
		name := l.Stage.Name()
		if _, exists := p.indexOf[name]; exists {
			return nil, invalidf("duplicate stage name: %q", name)
		}
		p.indexOf[name] = i
	}

	p.outgoing = make([][]int, len(p.links))
	p.indeg = make([]int, len(p.links))
	for i, l := range p.links {
		name := l.Stage.Name()
		if l.root && len(l.From) > 0 {
			return nil, invalidf("stage %q is both root and fed", name)
		}
		if !l.root && len(l.From) == 0 {
			return nil, invalidf("stage %q has no producers and is not a root", name)
		}
		seen := make(map[int]struct{}, len(l.From))
		for _, from := range l.From {
			j, ok := p.indexOf[from]
			if !ok {
				return nil, invalidf("stage %q fed by unscheduled stage %q", name, from)
			}
			if j == i {
				return nil, invalidf("stage %q feeds itself", name)
			}
			if _, dup := seen[j]; dup {
				return nil, invalidf("stage %q fed twice by %q", name, from)
			}
			seen[j] = struct{}{}
			p.outgoing[j] = append(p.outgoing[j], i)
			p.indeg[i]++
		}
	}

	if err := p.validateAcyclic(); err != nil {
		return nil, err
	}
	return p, nil
}

// Run executes every stage once in topological order. Root stages
// receive rootArgs positionally; fed stages receive their producers'
// merged results as named inputs, filtered to the names they accept.
// Each stage independently decides skip versus execute.
func (p *Pipeline) Run(ctx context.Context, rootArgs ...any) (map[string]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.results = nil

	for _, idx := range p.order {
		l := p.links[idx]
		name := l.Stage.Name()
		p.log.Info("pipeline dispatching stage", zap.String("stage", name))

		var err error
		if l.root {
			_, err = l.Stage.Run(ctx, rootArgs...)
		} else {
			_, err = l.Stage.RunNamed(ctx, p.feedInputs(l))
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %q: %w", name, err)
		}
	}

	// Accumulate every stage's results in declaration order; a later
	// declaration wins a key conflict regardless of execution order.
	acc := make(map[string]any)
	for _, l := range p.links {
		for k, v := range l.Stage.Results() {
			acc[k] = v
		}
	}
	p.results = acc
	return p.Results(), nil
}

// feedInputs merges the producers' result mappings in declared order,
// later producers overriding earlier ones, filtered to inputs the
// consuming stage accepts.
func (p *Pipeline) feedInputs(l Link) map[string]any {
	merged := make(map[string]any)
	for _, from := range l.From {
		producer := p.links[p.indexOf[from]].Stage
		for k, v := range producer.Results() {
			merged[k] = v
		}
	}
	named := make(map[string]any, len(merged))
	for k, v := range merged {
		if l.Stage.AcceptsInput(k) {
			named[k] = v
		}
	}
	return named
}

// Results returns the accumulated result mapping from the most recent
// Run. String values naming existing files are returned as absolute
// paths.
func (p *Pipeline) Results() map[string]any {
	out := make(map[string]any, len(p.results))
	for k, v := range p.results {
		out[k] = absolutize(v)
	}
	return out
}

// TopologicalOrder returns the deterministic execution order of stage
// names.
func (p *Pipeline) TopologicalOrder() []string {
	names := make([]string, 0, len(p.order))
	for _, idx := range p.order {
		names = append(names, p.links[idx].Stage.Name())
	}
	return names
}

// RedefineResultKey renames a key in a result mapping in place. Missing
// keys are left alone.
func RedefineResultKey(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		delete(m, from)
		m[to] = v
	}
}

func absolutize(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	info, err := os.Stat(s)
	if err != nil || !info.Mode().IsRegular() {
		return v
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return v
	}
	return abs
}
