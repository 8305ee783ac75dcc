// Package folder implements the folder producer described in spec.md §4.2:
// it watches a configured set of directories for create/modify/delete/rename
// activity and publishes a TimelineEvent for each one onto the event bus.
//
// It is grounded on the fsnotify usage pattern in the retrieved
// tail-claude session watcher (watcher.go): a single goroutine owns the
// fsnotify.Watcher and both its Events and Errors channels. The
// rename-pair correlation map is guarded by a mutex, because the
// coalescing timers that turn an unpaired removal into file_deleted fire
// on their own goroutines. Events are not filtered by whether the path is
// a directory: a directory created, removed or renamed under a watched
// folder is reported the same way as a file. The teacher's own internal/watcher/file.go used polling
// snapshot/diff instead of fsnotify; this producer keeps that file's rule
// (glob-match a path to a configured folder) but trades the poll loop for a
// kernel-notified fsnotify watch, which the example pack's file watchers
// otherwise use throughout.
package folder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abi50/pida/internal/bus"
	"github.com/abi50/pida/internal/model"
)

// renameCoalesceWindow is how long the producer waits after a Remove event
// before concluding it was a true delete rather than the first half of a
// rename/move pair. fsnotify reports renames as Remove+Create (or, on some
// platforms, Rename+Create) for the old and new paths separately; there is
// no atomic "renamed from X to Y" event, so a short correlation window is
// the idiomatic way to recover that semantic (documented in DESIGN.md's
// producer/folder entry).
const renameCoalesceWindow = 150 * time.Millisecond

// pendingRemoval tracks a Remove/Rename event awaiting correlation with the
// Create event fsnotify delivers for the new path. Pairing is keyed by
// folder, not by path, since a two-path rename/move delivers the old and new
// paths as separate events with different Name values.
type pendingRemoval struct {
	path  string
	timer *time.Timer
}

// Producer watches a set of monitored folders and publishes TimelineEvents
// to a bus.Bus.
type Producer struct {
	folders []model.MonitoredFolder
	bus     *bus.Bus
	logger  *slog.Logger

	watcher *fsnotify.Watcher

	mu        sync.Mutex
	pendingRm map[string]*pendingRemoval // folder ID -> pending removal, for rename correlation

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a folder Producer. Folders with Enabled=false are ignored.
func New(folders []model.MonitoredFolder, b *bus.Bus, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		folders:   folders,
		bus:       b,
		logger:    logger,
		pendingRm: make(map[string]*pendingRemoval),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins watching. It returns once the fsnotify watcher is
// established and all configured folders are registered; event delivery
// continues on a background goroutine until Stop is called.
func (p *Producer) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	p.watcher = w

	for _, f := range p.folders {
		if !f.Enabled {
			continue
		}
		if err := p.addFolder(f); err != nil {
			p.logger.Warn("folder producer: cannot watch path",
				slog.String("path", f.Path), slog.Any("error", err))
		}
	}

	go p.run(ctx)
	return nil
}

func (p *Producer) addFolder(f model.MonitoredFolder) error {
	if !f.Recursive {
		return p.watcher.Add(f.Path)
	}
	return filepath.Walk(f.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if addErr := p.watcher.Add(path); addErr != nil {
				p.logger.Warn("folder producer: cannot watch subdirectory",
					slog.String("path", path), slog.Any("error", addErr))
			}
		}
		return nil
	})
}

// Stop halts the watcher and waits for the run loop to exit. Stop is
// idempotent.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.watcher != nil {
			_ = p.watcher.Close()
		}
		<-p.doneCh
	})
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleFsEvent(event)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("folder producer: watcher error", slog.Any("error", err))
		}
	}
}

func (p *Producer) folderFor(path string) (model.MonitoredFolder, bool) {
	for _, f := range p.folders {
		if !f.Enabled {
			continue
		}
		if matched, _ := filepath.Match(filepath.Join(f.Path, "*"), path); matched {
			return f, true
		}
		if filepath.Dir(path) == filepath.Clean(f.Path) {
			return f, true
		}
	}
	return model.MonitoredFolder{}, false
}

func (p *Producer) handleFsEvent(event fsnotify.Event) {
	folder, ok := p.folderFor(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		p.mu.Lock()
		pending, ok := p.pendingRm[folder.ID]
		if ok {
			pending.timer.Stop()
			delete(p.pendingRm, folder.ID)
		}
		p.mu.Unlock()
		if ok {
			p.publishMove(folder, pending.path, event.Name)
			return
		}
		if folder.WatchCreates {
			p.publish(folder, model.ActionFileCreated, event.Name, nil)
		}

	case event.Has(fsnotify.Write):
		if folder.WatchModifies {
			p.publish(folder, model.ActionFileModified, event.Name, nil)
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !folder.WatchDeletes && !folder.WatchRenames {
			return
		}
		path := event.Name
		p.mu.Lock()
		if old, exists := p.pendingRm[folder.ID]; exists {
			old.timer.Stop()
		}
		timer := time.AfterFunc(renameCoalesceWindow, func() {
			p.mu.Lock()
			delete(p.pendingRm, folder.ID)
			p.mu.Unlock()
			if folder.WatchDeletes {
				p.publish(folder, model.ActionFileDeleted, path, nil)
			}
		})
		p.pendingRm[folder.ID] = &pendingRemoval{path: path, timer: timer}
		p.mu.Unlock()
	}
}

// publishMove emits a rename or move event once a Remove (srcPath) is
// correlated with the Create (destPath) fsnotify delivers for the new path.
// Same parent directory is a rename; a different one is a move, mirroring
// spec §4.2's filepath.Dir comparison.
func (p *Producer) publishMove(folder model.MonitoredFolder, srcPath, destPath string) {
	if !folder.WatchRenames {
		return
	}
	action := model.ActionFileRenamed
	if filepath.Dir(srcPath) != filepath.Dir(destPath) {
		action = model.ActionFileMoved
	}
	p.publish(folder, action, destPath, map[string]any{
		"src_path":  srcPath,
		"dest_path": destPath,
	})
}

// publish emits a TimelineEvent for a filesystem change observed under
// folder. target is the affected path; Subject is left for a principal
// (e.g. the user performing the change), which the folder watcher itself
// cannot determine, so it stays empty here.
func (p *Producer) publish(folder model.MonitoredFolder, action model.Action, target string, extraDetail map[string]any) {
	event := model.NewEvent(model.SourceFolderMonitor, model.CategoryFileSystem, action)
	event.Target = target
	event.Detail["folder_id"] = folder.ID
	event.Detail["folder_path"] = folder.Path
	for k, v := range extraDetail {
		event.Detail[k] = v
	}

	if err := p.bus.Publish(event); err != nil {
		p.logger.Warn("folder producer: dropped event, bus backpressure",
			slog.String("path", target), slog.Any("error", err))
	}
}
