package main

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conclave-run/conclave/internal/cron"
	"github.com/conclave-run/conclave/internal/gateway"
)

// configWatcher hot-reloads the model catalogue and job table files while
// the runtime is up, debounced so a burst of writes (an editor's
// write-then-rename) triggers one reload rather than several.
type configWatcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

func newConfigWatcher(s *Server) (*configWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if s.cfg.CatalogueFile != "" {
		if err := fw.Add(s.cfg.CatalogueFile); err != nil {
			s.logger.Warn(context.Background(), "watch catalogue file failed", "error", err)
		}
	}
	if s.cfg.JobTableFile != "" {
		if err := fw.Add(s.cfg.JobTableFile); err != nil {
			s.logger.Warn(context.Background(), "watch job table file failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cw := &configWatcher{watcher: fw, cancel: cancel}
	go cw.loop(ctx, s)
	return cw, nil
}

func (w *configWatcher) loop(ctx context.Context, s *Server) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	schedule := func(path string) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() { w.reload(s, path) })
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "config watcher error", "error", err)
		}
	}
}

func (w *configWatcher) reload(s *Server, path string) {
	ctx := context.Background()
	switch path {
	case s.cfg.CatalogueFile:
		cat := gateway.NewDefaultCatalogue()
		if err := gateway.LoadCatalogueFile(cat, path); err != nil {
			s.logger.Warn(ctx, "catalogue reload failed", "error", err)
			return
		}
		s.gw.SetCatalogue(cat)
		s.logger.Info(ctx, "catalogue reloaded", "path", path)
	case s.cfg.JobTableFile:
		if _, err := cron.LoadYAMLJobTable(ctx, s.cronStore, path); err != nil {
			s.logger.Warn(ctx, "job table file reload failed", "error", err)
			return
		}
		if err := s.scheduler.Reload(ctx); err != nil {
			s.logger.Warn(ctx, "job table reload failed", "error", err)
			return
		}
		s.logger.Info(ctx, "job table reloaded", "path", path)
	}
}

func (w *configWatcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
