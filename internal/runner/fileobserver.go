package runner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

func init() { Register(domain.TypeFileObserver, buildFileObserver) }

// fileObserver publishes "<op> <path>" for every matching change under a
// directory.
type fileObserver struct {
	svc  *Service
	opts *domain.FileObserverOptions
}

func buildFileObserver(s *Service) (supervisor.Runner, error) {
	return &fileObserver{svc: s, opts: s.Def.Options.(*domain.FileObserverOptions)}, nil
}

func (o *fileObserver) Run(ctx context.Context) error {
	info, err := os.Stat(o.opts.Directory)
	if err != nil {
		return fmt.Errorf("watch %s: %w", o.opts.Directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidConfig, o.opts.Directory)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := o.watch(w, o.opts.Directory); err != nil {
		return err
	}
	o.svc.Log().Info("watching directory",
		logger.String("dir", o.opts.Directory),
		logger.Bool("recursive", o.opts.IncludeSubdirs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			o.handle(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			o.svc.IOError("watch", err)
		}
	}
}

func (o *fileObserver) watch(w *fsnotify.Watcher, root string) error {
	if !o.opts.IncludeSubdirs {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (o *fileObserver) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	if o.opts.IncludeSubdirs && ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := o.watch(w, ev.Name); err != nil {
				o.svc.IOError("watch", err)
			}
		}
	}
	if !o.matches(ev.Name) {
		return
	}
	o.svc.Publish(opName(ev.Op) + " " + ev.Name)
}

func (o *fileObserver) matches(path string) bool {
	if o.opts.Pattern == "" {
		return true
	}
	ok, err := filepath.Match(o.opts.Pattern, filepath.Base(path))
	return err == nil && ok
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Write):
		return "changed"
	case op.Has(fsnotify.Remove):
		return "deleted"
	case op.Has(fsnotify.Rename):
		return "renamed"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	default:
		return "unknown"
	}
}
