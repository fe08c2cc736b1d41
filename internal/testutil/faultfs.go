package testutil

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/afero"
)

// FaultyFs wraps an afero.Fs and fails selected operations on demand. It
// also counts files opened for writing, which lets tests prove that an
// operation did not touch the disk.
type FaultyFs struct {
	afero.Fs

	mu         sync.Mutex
	failRename bool
	failCreate bool
	writes     atomic.Int64
}

// NewFaultyFs wraps fs.
func NewFaultyFs(fs afero.Fs) *FaultyFs {
	return &FaultyFs{Fs: fs}
}

// FailRename makes every Rename return EIO while on is true.
func (f *FaultyFs) FailRename(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename = on
}

// FailCreate makes every OpenFile with O_CREATE return EIO while on is true.
func (f *FaultyFs) FailCreate(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreate = on
}

// Writes returns the number of files opened for writing.
func (f *FaultyFs) Writes() int64 {
	return f.writes.Load()
}

func (f *FaultyFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	fail := f.failRename
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EIO}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FaultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		f.mu.Lock()
		fail := f.failCreate && flag&os.O_CREATE != 0
		f.mu.Unlock()
		if fail {
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EIO}
		}
		f.writes.Add(1)
	}
	return f.Fs.OpenFile(name, flag, perm)
}
