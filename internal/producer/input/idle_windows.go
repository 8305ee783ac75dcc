//go:build windows

package input

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// lastInputInfo mirrors the Win32 LASTINPUTINFO structure used by the
// original's ctypes-based _win32_idle_seconds.
type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

var (
	modUser32           = windows.NewLazySystemDLL("user32.dll")
	procGetLastInputInfo = modUser32.NewProc("GetLastInputInfo")
)

func init() {
	idleFactory = win32IdleSeconds
}

// win32IdleSeconds returns seconds since the last keyboard/mouse input,
// ported from the original's ctypes GetLastInputInfo/GetTickCount call.
func win32IdleSeconds() float64 {
	var lii lastInputInfo
	lii.cbSize = uint32(unsafe.Sizeof(lii))

	ret, _, _ := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&lii)))
	if ret == 0 {
		return 9999.0
	}

	tick := windows.GetTickCount()
	millis := tick - lii.dwTime
	return float64(millis) / 1000.0
}
