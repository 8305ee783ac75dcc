package folder_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abi50/pida/internal/bus"
	"github.com/abi50/pida/internal/model"
	"github.com/abi50/pida/internal/producer/folder"
)

type collector struct {
	mu     sync.Mutex
	events []model.TimelineEvent
}

func (c *collector) handle(ctx context.Context, event model.TimelineEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collector) snapshot() []model.TimelineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.TimelineEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newTestBus(t *testing.T) (*bus.Bus, *collector) {
	t.Helper()
	b := bus.New(64, nil)
	c := &collector{}
	b.Subscribe(c.handle)
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	t.Cleanup(func() {
		cancel()
		b.Stop()
	})
	return b, c
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestFolderProducer_EmitsFileCreated(t *testing.T) {
	dir := t.TempDir()
	b, c := newTestBus(t)

	folders := []model.MonitoredFolder{
		{ID: "f1", Path: dir, Enabled: true, WatchCreates: true, WatchModifies: true, WatchDeletes: true},
	}
	p := folder.New(folders, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	time.Sleep(30 * time.Millisecond) // let the watcher register before writing

	target := filepath.Join(dir, "new-file.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitUntil(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Action == model.ActionFileCreated && e.Target == target {
				return true
			}
		}
		return false
	})
}

func TestFolderProducer_RenameCorrelatesMoveAndSetsTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old-name.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, c := newTestBus(t)
	folders := []model.MonitoredFolder{
		{ID: "f1", Path: dir, Enabled: true, WatchRenames: true, WatchDeletes: true},
	}
	p := folder.New(folders, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)

	dest := filepath.Join(dir, "new-name.txt")
	if err := os.Rename(src, dest); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	waitUntil(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Action != model.ActionFileRenamed {
				continue
			}
			if e.Target != dest {
				continue
			}
			if e.Detail["src_path"] != src || e.Detail["dest_path"] != dest {
				continue
			}
			return true
		}
		return false
	})

	for _, e := range c.snapshot() {
		if e.Action == model.ActionFileDeleted {
			t.Fatalf("a correlated rename should not also emit file_deleted, got %+v", e)
		}
	}
}

func TestFolderProducer_UncorrelatedRemoveStillEmitsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, c := newTestBus(t)
	folders := []model.MonitoredFolder{
		{ID: "f1", Path: dir, Enabled: true, WatchDeletes: true, WatchRenames: true},
	}
	p := folder.New(folders, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	waitUntil(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Action == model.ActionFileDeleted && e.Target == path {
				return true
			}
		}
		return false
	})
}

func TestFolderProducer_DisabledFolderIgnored(t *testing.T) {
	dir := t.TempDir()
	b, c := newTestBus(t)

	folders := []model.MonitoredFolder{
		{ID: "f1", Path: dir, Enabled: false, WatchCreates: true},
	}
	p := folder.New(folders, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := os.WriteFile(filepath.Join(dir, "x.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if len(c.snapshot()) != 0 {
		t.Fatalf("disabled folder should not watch, got events: %+v", c.snapshot())
	}
}

func TestFolderProducer_WatchModifiesGatesWriteEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, c := newTestBus(t)
	folders := []model.MonitoredFolder{
		{ID: "f1", Path: dir, Enabled: true, WatchModifies: false},
	}
	p := folder.New(folders, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("WriteFile (modify): %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	for _, e := range c.snapshot() {
		if e.Action == model.ActionFileModified {
			t.Fatalf("WatchModifies=false should suppress file_modified, got %+v", e)
		}
	}
}
