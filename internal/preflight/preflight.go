package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckDestination verifies that the output directory, or its nearest
// existing ancestor when it has not been created yet, is a writable
// directory.
func CheckDestination(path string) Result {
	const name = "Destination access"

	base, info, err := nearestExisting(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", base)}
	}
	if err := unix.Access(base, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", base, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (write ok)", base)}
}

// CheckFreeSpace compares the space available at path against requiredBytes.
func CheckFreeSpace(path string, requiredBytes int64) Result {
	const name = "Free space"

	base, _, err := nearestExisting(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}

	var st unix.Statfs_t
	if err := unix.Statfs(base, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", base, err)}
	}

	avail := uint64(st.Bavail) * uint64(st.Bsize)
	if requiredBytes > 0 && avail < uint64(requiredBytes) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %s, %s available)",
			base, humanize.IBytes(uint64(requiredBytes)), humanize.IBytes(avail))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s available)", base, humanize.IBytes(avail))}
}

// nearestExisting walks up from path to the first component that exists.
// MkdirAll creates the rest, so that component decides writability.
func nearestExisting(path string) (string, os.FileInfo, error) {
	p := filepath.Clean(path)
	for {
		info, err := os.Stat(p)
		if err == nil {
			return p, info, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", nil, err
		}
		p = parent
	}
}
