// Package mount is the thin FUSE adapter: it demultiplexes kernel-originated
// filesystem operations onto the core chfs engine. Grounded on the
// jacobsa/fuse fuseutil.FileSystem op-struct style used throughout
// GoogleCloudPlatform-gcsfuse/fs/fs.go, narrowed to chfs's single-threaded,
// no-cache semantics.
package mount

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	chfs "github.com/go-chfs/chfs"
	"github.com/go-chfs/chfs/directory"
	"github.com/go-chfs/chfs/errors"
	"github.com/go-chfs/chfs/inode"
)

// noCacheExpiration is used for every entry/attribute expiration the adapter
// hands back: the engine does no VFS-level caching, and jacobsa/fuse
// interprets a zero time.Time as "already expired" either way, so this is
// for readability at call sites.
var noCacheExpiration time.Time

// FileSystem adapts a chfs.FileSystem to fuseutil.FileSystem. Every method
// not overridden here falls back to fuseutil.NotImplementedFileSystem,
// covering the declared non-goals: symlinks, hard links, rename, fsync.
// StatFS is overridden as a no-op that reports success.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	// mu serializes every call: the engine is not safe for concurrent
	// callers, so the mount layer is the single point of serialization.
	mu sync.Mutex

	fs *chfs.FileSystem
}

// New adapts an already-formatted-or-opened chfs.FileSystem for mounting.
func New(fs *chfs.FileSystem) *FileSystem {
	return &FileSystem{fs: fs}
}

func toAttributes(t inode.Type, attr inode.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(0644)
	if t == inode.TypeDirectory {
		mode = os.ModeDir | 0755
	}
	return fuseops.InodeAttributes{
		Size:  attr.Size,
		Nlink: 1,
		Mode:  mode,
		Atime: time.Unix(int64(attr.Atime), 0),
		Mtime: time.Unix(int64(attr.Mtime), 0),
		Ctime: time.Unix(int64(attr.Ctime), 0),
	}
}

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, err := directory.Lookup(fs.fs.Engine, inode.ID(op.Parent), op.Name)
	if err != nil {
		return errors.ToFuseErrno(err)
	}

	t, attr, err := fs.fs.Engine.GetTypeAttr(childID)
	if err != nil {
		return errors.ToFuseErrno(err)
	}

	op.Entry.Child = fuseops.InodeID(childID)
	op.Entry.Attributes = toAttributes(t, attr)
	op.Entry.AttributesExpiration = noCacheExpiration
	op.Entry.EntryExpiration = noCacheExpiration
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	t, attr, err := fs.fs.Engine.GetTypeAttr(inode.ID(op.Inode))
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	op.Attributes = toAttributes(t, attr)
	op.AttributesExpiration = noCacheExpiration
	return nil
}

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Size != nil {
		if _, err := fs.fs.Engine.Resize(inode.ID(op.Inode), *op.Size); err != nil {
			return errors.ToFuseErrno(err)
		}
	}

	t, attr, err := fs.fs.Engine.GetTypeAttr(inode.ID(op.Inode))
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	op.Attributes = toAttributes(t, attr)
	op.AttributesExpiration = noCacheExpiration
	return nil
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, err := directory.Mkdir(fs.fs.Engine, inode.ID(op.Parent), op.Name)
	if err != nil {
		return errors.ToFuseErrno(err)
	}

	t, attr, err := fs.fs.Engine.GetTypeAttr(childID)
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(childID)
	op.Entry.Attributes = toAttributes(t, attr)
	op.Entry.AttributesExpiration = noCacheExpiration
	op.Entry.EntryExpiration = noCacheExpiration
	return nil
}

func (fs *FileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, err := directory.Mkfile(fs.fs.Engine, inode.ID(op.Parent), op.Name)
	if err != nil {
		return errors.ToFuseErrno(err)
	}

	t, attr, err := fs.fs.Engine.GetTypeAttr(childID)
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(childID)
	op.Entry.Attributes = toAttributes(t, attr)
	op.Entry.AttributesExpiration = noCacheExpiration
	op.Entry.EntryExpiration = noCacheExpiration
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	childID, err := directory.Mkfile(fs.fs.Engine, inode.ID(op.Parent), op.Name)
	if err != nil {
		return errors.ToFuseErrno(err)
	}

	t, attr, err := fs.fs.Engine.GetTypeAttr(childID)
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	op.Entry.Child = fuseops.InodeID(childID)
	op.Entry.Attributes = toAttributes(t, attr)
	op.Entry.AttributesExpiration = noCacheExpiration
	op.Entry.EntryExpiration = noCacheExpiration
	return nil
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := directory.Unlink(fs.fs.Engine, inode.ID(op.Parent), op.Name); err != nil {
		return errors.ToFuseErrno(err)
	}
	return nil
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := directory.Unlink(fs.fs.Engine, inode.ID(op.Parent), op.Name); err != nil {
		return errors.ToFuseErrno(err)
	}
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	t, err := fs.fs.Engine.GetType(inode.ID(op.Inode))
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	if t != inode.TypeDirectory {
		return fuse.ENOTDIR
	}
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := directory.ReadDirectory(fs.fs.Engine, inode.ID(op.Inode))
	if err != nil {
		return errors.ToFuseErrno(err)
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}

	var n int
	for i := int(op.Offset); i < len(entries); i++ {
		e := entries[i]
		t, err := fs.fs.Engine.GetType(e.ID)
		if err != nil {
			return errors.ToFuseErrno(err)
		}
		dirent := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(e.ID),
			Name:   e.Name,
			Type:   direntType(t),
		}
		written := fuseutil.WriteDirent(op.Dst[n:], dirent)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func direntType(t inode.Type) fuseutil.DirentType {
	if t == inode.TypeDirectory {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.fs.Engine.GetType(inode.ID(op.Inode))
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := fs.fs.Engine.ReadFileAtOffset(inode.ID(op.Inode), uint64(len(op.Dst)), uint64(op.Offset))
	if err != nil {
		return errors.ToFuseErrno(err)
	}
	op.BytesRead = copy(op.Dst, data)
	_ = fs.fs.Engine.TouchAtime(inode.ID(op.Inode))
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.fs.Engine.WriteFileAtOffset(inode.ID(op.Inode), op.Data, uint64(op.Offset)); err != nil {
		return errors.ToFuseErrno(err)
	}
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}
