package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")

	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")

	// ErrInjectedRemoveError is returned when a remove error is injected.
	ErrInjectedRemoveError = errors.New("vfs: injected remove error")
)

// FaultInjectionFS wraps an FS and allows injecting errors.
//
// Path filters match either an exact path or, when the filter ends with a
// path separator, every path below it. An empty filter matches everything.
type FaultInjectionFS struct {
	base FS

	mu sync.RWMutex

	injectReadError   bool
	injectWriteError  bool
	injectSyncError   bool
	injectRemoveError bool
	readErrorPath     string
	writeErrorPath    string
	removeErrorPath   string

	// Files created but not yet renamed into place.
	unsynced map[string]struct{}

	removes int

	// When false all mutating calls fail. Used to simulate a crash.
	filesystemActive bool
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:             base,
		unsynced:         make(map[string]struct{}),
		filesystemActive: true,
	}
}

// SetFilesystemActive enables or disables the filesystem.
func (fs *FaultInjectionFS) SetFilesystemActive(active bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.filesystemActive = active
}

// InjectReadError sets up read error injection for the given path filter.
func (fs *FaultInjectionFS) InjectReadError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = true
	fs.readErrorPath = path
}

// InjectWriteError sets up write error injection for the given path filter.
func (fs *FaultInjectionFS) InjectWriteError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectWriteError = true
	fs.writeErrorPath = path
}

// InjectSyncError sets up sync error injection.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncError = true
}

// InjectRemoveError sets up remove error injection for the given path filter.
func (fs *FaultInjectionFS) InjectRemoveError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectRemoveError = true
	fs.removeErrorPath = path
}

// ClearErrors clears all error injection.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = false
	fs.injectWriteError = false
	fs.injectSyncError = false
	fs.injectRemoveError = false
	fs.readErrorPath = ""
	fs.writeErrorPath = ""
	fs.removeErrorPath = ""
}

// RemoveCount returns the number of successful Remove calls.
func (fs *FaultInjectionFS) RemoveCount() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.removes
}

// UnsyncedFiles returns files that were created but never renamed into place
// or removed. After a simulated crash these are the leftovers an orphan sweep
// must handle.
func (fs *FaultInjectionFS) UnsyncedFiles() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]string, 0, len(fs.unsynced))
	for p := range fs.unsynced {
		out = append(out, p)
	}
	return out
}

func matchPath(filter, name string) bool {
	if filter == "" {
		return true
	}
	if strings.HasSuffix(filter, string(filepath.Separator)) {
		return strings.HasPrefix(name, filter)
	}
	return filepath.Clean(filter) == filepath.Clean(name)
}

func (fs *FaultInjectionFS) writeFault(name string) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if !fs.filesystemActive {
		return ErrInjectedWriteError
	}
	if fs.injectWriteError && matchPath(fs.writeErrorPath, name) {
		return ErrInjectedWriteError
	}
	return nil
}

func (fs *FaultInjectionFS) readFault(name string) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.injectReadError && matchPath(fs.readErrorPath, name) {
		return ErrInjectedReadError
	}
	return nil
}

// Create creates a new writable file with fault injection.
func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	if err := fs.writeFault(name); err != nil {
		return nil, err
	}
	baseFile, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.unsynced[filepath.Clean(name)] = struct{}{}
	fs.mu.Unlock()

	return &faultWritableFile{base: baseFile, fs: fs, path: name}, nil
}

// Open opens an existing file for sequential reading.
func (fs *FaultInjectionFS) Open(name string) (SequentialFile, error) {
	if err := fs.readFault(name); err != nil {
		return nil, err
	}
	return fs.base.Open(name)
}

// Rename atomically renames a file.
func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	if err := fs.writeFault(newname); err != nil {
		return err
	}
	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}

	fs.mu.Lock()
	delete(fs.unsynced, filepath.Clean(oldname))
	fs.mu.Unlock()
	return nil
}

// Remove deletes a file.
func (fs *FaultInjectionFS) Remove(name string) error {
	fs.mu.RLock()
	if !fs.filesystemActive || (fs.injectRemoveError && matchPath(fs.removeErrorPath, name)) {
		fs.mu.RUnlock()
		return ErrInjectedRemoveError
	}
	fs.mu.RUnlock()

	if err := fs.base.Remove(name); err != nil {
		return err
	}

	fs.mu.Lock()
	delete(fs.unsynced, filepath.Clean(name))
	fs.removes++
	fs.mu.Unlock()
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	if err := fs.writeFault(path); err != nil {
		return err
	}
	return fs.base.MkdirAll(path, perm)
}

// Stat returns file info.
func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error) {
	if err := fs.readFault(name); err != nil {
		return nil, err
	}
	return fs.base.Stat(name)
}

// ListDir lists the entries of a directory.
func (fs *FaultInjectionFS) ListDir(path string) ([]os.DirEntry, error) {
	return fs.base.ListDir(path)
}

// SyncDir syncs a directory.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	fs.mu.RLock()
	if fs.injectSyncError {
		fs.mu.RUnlock()
		return ErrInjectedSyncError
	}
	fs.mu.RUnlock()
	return fs.base.SyncDir(path)
}

// faultWritableFile wraps WritableFile with fault injection.
type faultWritableFile struct {
	base WritableFile
	fs   *FaultInjectionFS
	path string
}

func (f *faultWritableFile) Write(p []byte) (int, error) {
	if err := f.fs.writeFault(f.path); err != nil {
		return 0, err
	}
	return f.base.Write(p)
}

func (f *faultWritableFile) Close() error {
	return f.base.Close()
}

func (f *faultWritableFile) Sync() error {
	f.fs.mu.RLock()
	if f.fs.injectSyncError {
		f.fs.mu.RUnlock()
		return ErrInjectedSyncError
	}
	f.fs.mu.RUnlock()
	return f.base.Sync()
}
