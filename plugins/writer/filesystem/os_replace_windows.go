//go:build windows

package filesystem

import (
	"os"

	"golang.org/x/sys/windows"
)

// osReplace 用 MoveFileEx 覆盖已存在的目标工件；WRITE_THROUGH 保证返回前已落盘。
func osReplace(tmpPath, dest string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return &os.LinkError{Op: "replace", Old: tmpPath, New: dest, Err: err}
	}
	return nil
}

// syncDir: Windows 无目录 fsync，WRITE_THROUGH 已覆盖。
func syncDir(string) error { return nil }
