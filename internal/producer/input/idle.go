package input

// idleFactory is the registered platform-specific idle-seconds oracle. It is
// set by platform-specific files (idle_windows.go) in their init() function,
// mirroring the teacher's platformFactory registration convention
// (internal/watcher/file_watcher.go). When nil, defaultIdleFunc falls back to
// reporting a large idle value, matching the original's non-Windows
// "always idle" lambda.
var idleFactory func() float64

// defaultIdleFunc returns seconds since the last keyboard/mouse input, via
// the registered platform oracle when one exists.
func defaultIdleFunc() float64 {
	if idleFactory != nil {
		return idleFactory()
	}
	return 9999.0
}
