package filesystem

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-sync/internal/connectors"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// watchBuffer is how many changes may queue before the watcher blocks.
const watchBuffer = 256

// Watch streams changes below the root until ctx is cancelled. fsnotify
// watches single directories, so every visible sub-directory is added,
// including ones created while watching.
func (c *Connector) Watch(ctx context.Context) (<-chan domain.FileChange, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := c.checkRoot(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := c.addTree(watcher, c.config.RootPath, nil); err != nil {
		watcher.Close()
		return nil, err
	}

	changes := make(chan domain.FileChange, watchBuffer)
	go func() {
		defer close(changes)
		defer watcher.Close()

		send := func(change domain.FileChange) bool {
			select {
			case changes <- change:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(c.rel(event.Name)) {
						// Files moved in with the directory produce no events
						// of their own.
						var added []domain.FileChange
						if err := c.addTree(watcher, event.Name, &added); err != nil {
							logger.CtxWarn(ctx, "failed to watch %s: %v", event.Name, err)
						}
						for _, change := range added {
							if !send(change) {
								return
							}
						}
						continue
					}
				}
				if change := c.handleFsEvent(event); change != nil {
					if !send(*change) {
						return
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.CtxWarn(ctx, "filesystem watch error on %s: %v", c.config.RootPath, err)
			}
		}
	}()

	return changes, nil
}

// addTree watches dir and its visible sub-directories. When added is not nil
// the files found are appended to it as additions.
func (c *Connector) addTree(watcher *fsnotify.Watcher, dir string, added *[]domain.FileChange) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if p != c.config.RootPath && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		if added != nil && d.Type().IsRegular() {
			if change := c.change(p, domain.ChangeAdded, true); change != nil {
				*added = append(*added, *change)
			}
		}
		return nil
	})
}

// handleFsEvent converts one fsnotify event to a change. Directories, hidden
// paths, chmod-only events and filtered files yield nil. A rename reports the
// old name as removed; the new name arrives as its own create event.
func (c *Connector) handleFsEvent(event fsnotify.Event) *domain.FileChange {
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return c.change(event.Name, domain.ChangeRemoved, false)
	case event.Has(fsnotify.Create):
		return c.change(event.Name, domain.ChangeAdded, true)
	case event.Has(fsnotify.Write):
		return c.change(event.Name, domain.ChangeModified, true)
	}
	return nil
}

func (c *Connector) change(p string, kind domain.ChangeKind, mustExist bool) *domain.FileChange {
	rel := c.rel(p)
	if rel == "." || isHidden(rel) {
		return nil
	}
	var size int64
	if mustExist {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		size = info.Size()
	}
	if !c.filter.Allows(rel, size) {
		return nil
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	return &domain.FileChange{
		Path:     rel,
		Kind:     kind,
		Sequence: connectors.Sequence(c.now(), seq),
	}
}
