package task

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type recorder struct {
	ran []string
}

func (r *recorder) fn(name string) Func {
	return func(context.Context) error {
		r.ran = append(r.ran, name)
		return nil
	}
}

func buildGraph(t *testing.T, r *recorder) *Graph {
	t.Helper()
	g, err := New(
		Task{Name: "clean", Run: r.fn("clean")},
		Task{Name: "pages", Run: r.fn("pages")},
		Task{Name: "styles", Run: r.fn("styles")},
		Task{Name: "inline", Run: r.fn("inline")},
		Task{Name: "build", Deps: []string{"clean", "pages", "styles", "inline"}},
		Task{Name: "publish", Run: r.fn("publish")},
		Task{Name: "litmus", Deps: []string{"build", "publish"}, Run: r.fn("litmus")},
		Task{Name: "zip", Deps: []string{"build"}, Run: r.fn("zip")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func TestPlanFollowsDeclaredOrder(t *testing.T) {
	g := buildGraph(t, &recorder{})

	plan, err := g.Plan("litmus")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"clean", "pages", "styles", "inline", "build", "publish", "litmus"}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("plan = %v, want %v", plan, want)
	}
}

func TestPlanRunsSharedDependencyOnce(t *testing.T) {
	g, err := New(
		Task{Name: "a"},
		Task{Name: "b", Deps: []string{"a"}},
		Task{Name: "c", Deps: []string{"a"}},
		Task{Name: "d", Deps: []string{"b", "c"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan, err := g.Plan("d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(plan, want) {
		t.Fatalf("plan = %v, want %v", plan, want)
	}
}

func TestRunStopsAtFirstError(t *testing.T) {
	r := &recorder{}
	boom := errors.New("sass error")
	g, err := New(
		Task{Name: "pages", Run: r.fn("pages")},
		Task{Name: "styles", Run: func(context.Context) error { return boom }},
		Task{Name: "inline", Run: r.fn("inline")},
		Task{Name: "build", Deps: []string{"pages", "styles", "inline"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = g.Run(context.Background(), "build")
	if !errors.Is(err, boom) {
		t.Fatalf("expected sass error, got %v", err)
	}
	if !reflect.DeepEqual(r.ran, []string{"pages"}) {
		t.Fatalf("ran = %v, want [pages]", r.ran)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	r := &recorder{}
	g := buildGraph(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Run(ctx, "build"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(r.ran) != 0 {
		t.Fatalf("expected nothing to run, got %v", r.ran)
	}
}

func TestSeriesSkipsDependencies(t *testing.T) {
	r := &recorder{}
	g := buildGraph(t, r)

	if err := g.Series(context.Background(), "pages", "inline"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(r.ran, []string{"pages", "inline"}) {
		t.Fatalf("ran = %v", r.ran)
	}

	if err := g.Series(context.Background(), "nope"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestUnknownTask(t *testing.T) {
	g := buildGraph(t, &recorder{})
	if _, err := g.Plan("deploy"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		kind  error
		msg   string
	}{
		{"empty", nil, ErrInvalidGraph, "no tasks"},
		{"unnamed", []Task{{}}, ErrInvalidGraph, "name is required"},
		{"duplicate", []Task{{Name: "a"}, {Name: "a"}}, ErrInvalidGraph, "duplicate"},
		{"unknown dep", []Task{{Name: "a", Deps: []string{"b"}}}, ErrInvalidGraph, "unknown task"},
		{"self loop", []Task{{Name: "a", Deps: []string{"a"}}}, ErrInvalidGraph, "self-loop"},
		{"repeated dep", []Task{{Name: "a"}, {Name: "b", Deps: []string{"a", "a"}}}, ErrInvalidGraph, "twice"},
		{
			"cycle",
			[]Task{{Name: "a", Deps: []string{"b"}}, {Name: "b", Deps: []string{"c"}}, {Name: "c", Deps: []string{"a"}}},
			ErrCycleFound,
			"a -> b -> c -> a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tasks...)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("error %q does not mention %q", err, tt.msg)
			}
		})
	}
}
