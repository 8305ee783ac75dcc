package session

import (
	"context"
	"time"
)

// readerFactory is the registered platform-specific event-log reader,
// mirroring the teacher's platformFactory registration convention
// (internal/watcher/file_watcher.go). No file in this package sets it, so
// it is nil on every platform, Windows included.
var readerFactory LogReader

// activeLogReader returns the registered platform reader, or
// defaultLogReader when none has been registered.
func activeLogReader() LogReader {
	if readerFactory != nil {
		return readerFactory
	}
	return defaultLogReader
}

// defaultLogReader returns no events, matching the original's
// platform.system() != "Windows" early return. Since no platform reader is
// registered, it is the reader in use on every platform unless a caller
// supplies one through WithLogReader.
func defaultLogReader(_ context.Context, _ string, _ map[int]struct{}, _ time.Time) ([]RawEvent, error) {
	return nil, nil
}
