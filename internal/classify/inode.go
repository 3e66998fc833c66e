package classify

import (
	"os"
	"syscall"
)

// inode returns the filesystem inode number backing info. The container
// and cgroup scanners use it as the id of every cgroup; no cgroup.id file
// is read (SPEC_FULL.md §D).
func inode(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
