// Package fileutil provides common file operation utilities.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooManyCollisions is returned by UniqueDest when the numeric-suffix
// probe runs out of attempts.
var ErrTooManyCollisions = errors.New("too many name collisions at destination")

// maxCollisionProbes bounds the UniqueDest suffix search.
const maxCollisionProbes = 10000

// CopyFile copies a file from src to dst, creating parent directories as needed.
func CopyFile(src, dst string) (retErr error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := srcFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// MoveFile moves a file from src to dst. It tries a rename first and
// falls back to copy-then-delete when the rename fails (e.g. the
// destination is on a different filesystem).
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := CopyFile(src, dst); err != nil {
		return fmt.Errorf("copy fallback: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// UniqueDest returns a path in dir for name that does not collide with an
// existing file. If dir/name is free it is returned unchanged; otherwise
// the lowest "stem (i)ext" suffix that is free is used. Existence is
// probed at call time, so callers racing on the same directory must
// serialize around this and the subsequent move.
func UniqueDest(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if !exists(target) {
		return target, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; i <= maxCollisionProbes; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s in %s", ErrTooManyCollisions, name, dir)
}

// IsRegularFile reports whether path exists and is a regular file.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
