package fat

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// AferoFs adapts a FATFS to the afero.Fs interface so FAT volumes can be
// handed to code written against that abstraction. It is strictly read-only;
// every mutating operation fails with EPERM.
type AferoFs struct {
	fs *FATFS
}

// NewAferoFs opens the FAT volume at offset zero of rs and wraps it.
func NewAferoFs(rs io.ReadSeeker) (afero.Fs, error) {
	fatfs, err := NewFATFS(rs)
	if err != nil {
		return nil, err
	}

	return WrapFATFS(fatfs), nil
}

// WrapFATFS wraps an already-open FATFS.
func WrapFATFS(fatfs *FATFS) afero.Fs {
	return &AferoFs{fs: fatfs}
}

func (afs *AferoFs) Name() string {
	return "fatfs"
}

func (afs *AferoFs) Open(name string) (afero.File, error) {
	entry, err := afs.fs.Get(name)
	if err != nil {
		return nil, err
	}

	return &aferoFile{entry: entry}, nil
}

func (afs *AferoFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, syscall.EPERM
	}

	return afs.Open(name)
}

func (afs *AferoFs) Stat(name string) (os.FileInfo, error) {
	entry, err := afs.fs.Get(name)
	if err != nil {
		return nil, err
	}

	return &entryFileInfo{entry: entry}, nil
}

func (afs *AferoFs) Create(name string) (afero.File, error) {
	return nil, syscall.EPERM
}

func (afs *AferoFs) Mkdir(name string, perm os.FileMode) error {
	return syscall.EPERM
}

func (afs *AferoFs) MkdirAll(path string, perm os.FileMode) error {
	return syscall.EPERM
}

func (afs *AferoFs) Remove(name string) error {
	return syscall.EPERM
}

func (afs *AferoFs) RemoveAll(path string) error {
	return syscall.EPERM
}

func (afs *AferoFs) Rename(oldname, newname string) error {
	return syscall.EPERM
}

func (afs *AferoFs) Chmod(name string, mode os.FileMode) error {
	return syscall.EPERM
}

func (afs *AferoFs) Chown(name string, uid, gid int) error {
	return syscall.EPERM
}

func (afs *AferoFs) Chtimes(name string, atime, mtime time.Time) error {
	return syscall.EPERM
}

// aferoFile serves one open entry. The content view is built lazily so that
// stat-only usage never walks the allocation table.
type aferoFile struct {
	entry *DirectoryEntry
	view  SizedReadSeeker

	dirOffset int
	closed    bool
}

func (f *aferoFile) reader() (SizedReadSeeker, error) {
	if f.closed == true {
		return nil, os.ErrClosed
	}

	if f.view == nil {
		view, err := f.entry.Open()
		if err != nil {
			return nil, err
		}

		f.view = view
	}

	return f.view, nil
}

func (f *aferoFile) Read(p []byte) (int, error) {
	view, err := f.reader()
	if err != nil {
		return 0, err
	}

	return view.Read(p)
}

func (f *aferoFile) ReadAt(p []byte, offset int64) (int, error) {
	view, err := f.reader()
	if err != nil {
		return 0, err
	}

	restore, err := view.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	if _, err := view.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(view, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}

	if _, seekErr := view.Seek(restore, io.SeekStart); seekErr != nil && err == nil {
		err = seekErr
	}

	return n, err
}

func (f *aferoFile) Seek(offset int64, whence int) (int64, error) {
	view, err := f.reader()
	if err != nil {
		return 0, err
	}

	return view.Seek(offset, whence)
}

func (f *aferoFile) Name() string {
	return f.entry.Name()
}

func (f *aferoFile) Stat() (os.FileInfo, error) {
	return &entryFileInfo{entry: f.entry}, nil
}

func (f *aferoFile) Readdir(count int) ([]os.FileInfo, error) {
	children, err := f.entry.IterDir()
	if err != nil {
		return nil, err
	}

	if f.dirOffset >= len(children) {
		if count <= 0 {
			return []os.FileInfo{}, nil
		}

		return nil, io.EOF
	}

	remaining := children[f.dirOffset:]
	if count > 0 && len(remaining) > count {
		remaining = remaining[:count]
	}

	f.dirOffset += len(remaining)

	infos := make([]os.FileInfo, len(remaining))
	for i, child := range remaining {
		infos[i] = &entryFileInfo{entry: child}
	}

	return infos, nil
}

func (f *aferoFile) Readdirnames(count int) ([]string, error) {
	infos, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}

	return names, nil
}

func (f *aferoFile) Close() error {
	f.view = nil
	f.closed = true

	return nil
}

func (f *aferoFile) Write(p []byte) (int, error) {
	return 0, syscall.EPERM
}

func (f *aferoFile) WriteAt(p []byte, offset int64) (int, error) {
	return 0, syscall.EPERM
}

func (f *aferoFile) WriteString(s string) (int, error) {
	return 0, syscall.EPERM
}

func (f *aferoFile) Truncate(size int64) error {
	return syscall.EPERM
}

func (f *aferoFile) Sync() error {
	return nil
}

// entryFileInfo exposes a directory entry through os.FileInfo.
type entryFileInfo struct {
	entry *DirectoryEntry
}

func (fi *entryFileInfo) Name() string {
	return fi.entry.Name()
}

func (fi *entryFileInfo) Size() int64 {
	size, err := fi.entry.Size()
	if err != nil {
		return 0
	}

	return size
}

func (fi *entryFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0444)

	if fi.entry.IsDirectory() == true {
		mode |= os.ModeDir | 0111
	}

	return mode
}

func (fi *entryFileInfo) ModTime() time.Time {
	return fi.entry.ModifiedTime()
}

func (fi *entryFileInfo) IsDir() bool {
	return fi.entry.IsDirectory()
}

func (fi *entryFileInfo) Sys() interface{} {
	return fi.entry
}
