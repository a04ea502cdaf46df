package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// backupStamp sorts lexicographically in time order.
const backupStamp = "20060102T150405"

// BackupSuffix separates a file name from its backup timestamp. It never
// ends in ".yaml", so netplan ignores backups left in its directory.
const BackupSuffix = ".bak-"

// Backup copies path to "<path>.bak-<timestamp>" preserving its mode and
// returns the backup path. A missing source is not an error: Backup
// returns "" and nothing is written.
func Backup(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s for backup: %w", path, err)
	}
	return BackupBytes(path, data, FileMode(path, 0o600), now)
}

// BackupBytes writes data as a backup of path. Reconcilers use it when the
// pre-change content was captured before patching began.
func BackupBytes(path string, data []byte, perm fs.FileMode, now time.Time) (string, error) {
	base := path + BackupSuffix + now.Format(backupStamp)
	target := base
	for i := 1; Exists(target); i++ {
		target = fmt.Sprintf("%s.%d", base, i)
	}
	if err := WriteAtomic(target, data, perm); err != nil {
		return "", fmt.Errorf("writing backup of %s: %w", path, err)
	}
	return target, nil
}

// Restore copies backup over path, preserving the backup's mode.
func Restore(backup, path string) error {
	data, err := os.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", backup, err)
	}
	if err := WriteAtomic(path, data, FileMode(backup, 0o600)); err != nil {
		return fmt.Errorf("restoring %s from %s: %w", path, backup, err)
	}
	return nil
}
