package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// GrantOwnerRW walks root and adds owner read and write permission to every
// file and directory (directories also get owner execute). Symlinks are left
// alone.
func GrantOwnerRW(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		want := info.Mode().Perm() | 0o600
		if d.IsDir() {
			want |= 0o100
		}
		if want == info.Mode().Perm() {
			return nil
		}
		return os.Chmod(path, want|(info.Mode()&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky)))
	})
	if err != nil {
		return fmt.Errorf("grant owner rw on %s: %w", root, err)
	}
	return nil
}

// RemoveTree deletes root even when it contains read-only directories.
func RemoveTree(root string) error {
	if _, err := os.Lstat(root); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := GrantOwnerRW(root); err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	return nil
}

// DiskUsage sums the apparent size of all regular files below path. Hard
// linked files are counted once.
func DiskUsage(path string) (int64, error) {
	seen := make(map[inodeKey]struct{})

	var total int64
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if key, ok := inodeOf(info); ok {
			if _, dup := seen[key]; dup {
				return nil
			}
			seen[key] = struct{}{}
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error getting dir size: %w", err)
	}
	return total, nil
}

type inodeKey struct{ dev, ino uint64 }

func inodeOf(info os.FileInfo) (inodeKey, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink < 2 {
		return inodeKey{}, false
	}
	return inodeKey{dev: uint64(st.Dev), ino: st.Ino}, true
}
