// Package task runs named build tasks declared as a static dependency graph.
//
// A task lists the tasks that must run before it, in order. Running a task
// runs its dependencies depth-first, each at most once per run, then the task
// itself. The graph is validated when it is built and never changes after.
package task

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// Func is the body of a task.
type Func func(ctx context.Context) error

// Task is one node of the graph. Run may be nil for tasks that only group
// their dependencies.
type Task struct {
	Name string
	Deps []string
	Run  Func
}

// Graph is an immutable, validated set of tasks.
type Graph struct {
	tasks map[string]Task
}

// New builds and validates a graph. It rejects empty or duplicate names,
// dependencies on unknown tasks, repeated dependencies, self-loops and cycles.
func New(tasks ...Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	byName := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := byName[t.Name]; exists {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		byName[t.Name] = t
	}

	for _, t := range tasks {
		seen := make(map[string]bool, len(t.Deps))
		for _, d := range t.Deps {
			if d == t.Name {
				return nil, invalidf("self-loop: %q", t.Name)
			}
			if _, ok := byName[d]; !ok {
				return nil, invalidf("%q depends on unknown task %q", t.Name, d)
			}
			if seen[d] {
				return nil, invalidf("%q lists %q twice", t.Name, d)
			}
			seen[d] = true
		}
	}

	g := &Graph{tasks: byName}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// validateAcyclic walks every task in name order so the reported cycle is
// the same on every run.
func (g *Graph) validateAcyclic() error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		stack = append(stack, name)
		for _, d := range g.tasks[name].Deps {
			switch color[d] {
			case gray:
				start := 0
				for i, n := range stack {
					if n == d {
						start = i
						break
					}
				}
				path := append(append([]string{}, stack[start:]...), d)
				return cycleError(path)
			case white:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.Names() {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Names returns every task name in lexical order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.tasks))
	for n := range g.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the graph declares name.
func (g *Graph) Has(name string) bool {
	_, ok := g.tasks[name]
	return ok
}

// Plan returns the tasks that running name executes, in execution order.
// The order is fully determined by the declared dependency lists.
func (g *Graph) Plan(name string) ([]string, error) {
	if !g.Has(name) {
		return nil, unknown(name)
	}

	var plan []string
	done := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		if done[n] {
			return
		}
		done[n] = true
		for _, d := range g.tasks[n].Deps {
			walk(d)
		}
		plan = append(plan, n)
	}
	walk(name)
	return plan, nil
}

// Run executes the plan for name sequentially and stops at the first error.
func (g *Graph) Run(ctx context.Context, name string) error {
	plan, err := g.Plan(name)
	if err != nil {
		return err
	}
	return g.run(ctx, plan)
}

// Series runs the named tasks one after another without their dependencies.
// The watcher uses it to re-run a fixed sub-chain.
func (g *Graph) Series(ctx context.Context, names ...string) error {
	for _, n := range names {
		if !g.Has(n) {
			return unknown(n)
		}
	}
	return g.run(ctx, names)
}

func (g *Graph) run(ctx context.Context, plan []string) error {
	for _, name := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := g.tasks[name]
		if t.Run == nil {
			continue
		}

		taskCtx := logx.ContextWithFields(ctx, logx.Field("task", name))
		logger := logx.WithContext(taskCtx)
		logger.Infof("Starting '%s'...", name)

		start := time.Now()
		err := t.Run(taskCtx)
		elapsed := time.Since(start)
		taskDuration.Observe(elapsed.Milliseconds(), name)

		if err != nil {
			taskFailures.Inc(name)
			logger.Errorw("Task failed", logx.Field("duration", elapsed.String()), logx.Field("error", err.Error()))
			return fmt.Errorf("task %s: %w", name, err)
		}
		logger.Infof("Finished '%s' after %s", name, elapsed)
	}
	return nil
}
