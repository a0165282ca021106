package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

// trigger maps a set of source directories to the steps rerun when a file
// under them changes.
type trigger struct {
	name  string
	roots []string
	chain []string
}

func (p *Pipeline) triggers() []trigger {
	paths := p.config.Paths
	return []trigger{
		{
			name:  "pages",
			roots: []string{paths.Pages},
			chain: []string{TaskPages, TaskInline, TaskReload},
		},
		{
			name:  "layouts",
			roots: []string{paths.Layouts, paths.Partials},
			chain: []string{TaskResetPages, TaskPages, TaskInline, TaskReload},
		},
		{
			name:  "styles",
			roots: append([]string{paths.Styles}, paths.SassIncludes...),
			chain: []string{TaskStyles, TaskPages, TaskInline, TaskReload},
		},
		{
			name:  "images",
			roots: []string{paths.Images},
			chain: []string{TaskImages, TaskReload},
		},
	}
}

// match returns the trigger whose root most closely contains path.
func match(triggers []trigger, path string) (trigger, bool) {
	var (
		best    trigger
		bestLen = -1
	)
	for _, t := range triggers {
		for _, root := range t.roots {
			if root == "" || !within(root, path) {
				continue
			}
			if l := len(filepath.Clean(root)); l > bestLen {
				best, bestLen = t, l
			}
		}
	}
	return best, bestLen >= 0
}

func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// watch reruns the affected steps whenever a source file changes, until ctx
// is cancelled. Step failures are logged and the watch goes on.
func (p *Pipeline) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	triggers := p.triggers()
	for _, t := range triggers {
		for _, root := range t.roots {
			if err := addRecursive(w, root); err != nil {
				return err
			}
		}
	}
	logx.WithContext(ctx).Infow("Watching for changes", logx.Field("dirs", len(w.WatchList())))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logx.WithContext(ctx).Errorf("watch: %v", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			p.handleEvent(ctx, w, triggers, ev)
		}
	}
}

func (p *Pipeline) handleEvent(ctx context.Context, w *fsnotify.Watcher, triggers []trigger, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(w, ev.Name); err != nil {
				logx.WithContext(ctx).Errorf("watch %s: %v", ev.Name, err)
			}
		}
	}

	t, ok := match(triggers, ev.Name)
	if !ok {
		return
	}
	watchTriggers.Inc(t.name)
	logx.WithContext(ctx).Infow("Change detected",
		logx.Field("file", ev.Name),
		logx.Field("op", ev.Op.String()),
		logx.Field("trigger", t.name),
	)

	threading.GoSafe(func() {
		p.watchMu.Lock()
		defer p.watchMu.Unlock()

		if err := p.graph.Series(ctx, t.chain...); err != nil && ctx.Err() == nil {
			logx.WithContext(ctx).Errorf("rebuild after %s change: %v", t.name, err)
		}
	})
}

// addRecursive watches root and every directory below it. A missing root is
// skipped.
func addRecursive(w *fsnotify.Watcher, root string) error {
	if root == "" {
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	return nil
}
