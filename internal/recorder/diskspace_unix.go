//go:build linux || darwin
// +build linux darwin

package recorder

import "golang.org/x/sys/unix"

// freeMB returns the free space, in megabytes, on the filesystem hosting
// dir (spec section 4.3.2: "checks the filesystem hosting record_dir").
func freeMB(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	freeBytes := uint64(st.Bavail) * uint64(st.Bsize)
	return int64(freeBytes / (1024 * 1024)), nil
}
