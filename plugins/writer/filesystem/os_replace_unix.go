//go:build !windows

package filesystem

import (
	"errors"
	"os"
	"syscall"
)

// osReplace 将写完的临时工件改名为目标 CSV/XLSX；同一文件系统内 rename 原子。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir 尽力 fsync 输出目录，使工件改名落盘。
// 部分文件系统（如某些网络挂载）不支持目录 fsync，视为成功。
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) {
		return err
	}
	return nil
}
