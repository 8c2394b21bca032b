package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads config whenever one of its source files changes on
// disk, so the Session Supervisor can pick up feature-toggle and
// permission edits without a process restart.
type Watcher struct {
	fw *fsnotify.Watcher
}

// Watch starts watching directory's config sources for changes. onChange
// is invoked with a freshly loaded Config after each write; errors from
// the reload are swallowed and the previous config is kept, since a
// transient partial write (editor save) should not tear down a running
// session.
func Watch(directory string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range append(projectConfigDirs(directory), GetPaths().Config) {
		_ = fw.Add(dir)
	}

	go func() {
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if cfg, err := Load(directory); err == nil {
					onChange(cfg)
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{fw: fw}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fw.Close() }
