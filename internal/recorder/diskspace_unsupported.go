//go:build !linux && !darwin
// +build !linux,!darwin

package recorder

import "fmt"

// freeMB is unavailable on platforms without unix.Statfs; the recorder
// treats the check as failed-open is not acceptable here (spec section
// 4.3.2 requires refusing to start below min_disk_mb), so callers must
// treat this error as "cannot verify, do not start".
func freeMB(dir string) (int64, error) {
	return 0, fmt.Errorf("recorder: disk free-space check unsupported on this platform")
}
