package directory

import (
	"github.com/go-chfs/chfs/errors"
	"github.com/go-chfs/chfs/fileop"
	"github.com/go-chfs/chfs/inode"
)

// ReadDirectory returns the parsed entry list of directory dirID.
func ReadDirectory(eng *fileop.Engine, dirID inode.ID) ([]Entry, error) {
	content, err := eng.ReadFile(dirID)
	if err != nil {
		return nil, err
	}
	return ParseDirectory(string(content)), nil
}

// Lookup scans dirID's entries for name, returning its inode id or
// KindNotExist if absent.
func Lookup(eng *fileop.Engine, dirID inode.ID, name string) (inode.ID, error) {
	entries, err := ReadDirectory(eng, dirID)
	if err != nil {
		return inode.Invalid, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.ID, nil
		}
	}
	return inode.Invalid, errors.New(errors.KindNotExist)
}

// MkHelper creates a new inode of type t named name inside dirID: it fails
// with KindAlreadyExist if name is already present, otherwise allocates the
// inode and appends it to the parent directory's body.
func MkHelper(eng *fileop.Engine, dirID inode.ID, name string, t inode.Type) (inode.ID, error) {
	content, err := eng.ReadFile(dirID)
	if err != nil {
		return inode.Invalid, err
	}
	entries := ParseDirectory(string(content))
	for _, e := range entries {
		if e.Name == name {
			return inode.Invalid, errors.New(errors.KindAlreadyExist)
		}
	}

	newID, err := eng.AllocInode(t)
	if err != nil {
		return inode.Invalid, err
	}

	updated := AppendToDirectory(string(content), name, newID)
	if err := eng.WriteFile(dirID, []byte(updated)); err != nil {
		return inode.Invalid, err
	}
	return newID, nil
}

// Mkfile creates a regular file named name under parent.
func Mkfile(eng *fileop.Engine, parent inode.ID, name string) (inode.ID, error) {
	return MkHelper(eng, parent, name, inode.TypeFile)
}

// Mkdir creates a subdirectory named name under parent.
func Mkdir(eng *fileop.Engine, parent inode.ID, name string) (inode.ID, error) {
	return MkHelper(eng, parent, name, inode.TypeDirectory)
}

// Unlink removes the entry name from parent: it resolves the target via
// Lookup, refuses to remove a non-empty directory with KindNotEmpty (an
// enforcement the original algorithm omits — see DESIGN.md), frees the
// target inode via Engine.RemoveFile, and rewrites the parent body.
func Unlink(eng *fileop.Engine, parent inode.ID, name string) error {
	targetID, err := Lookup(eng, parent, name)
	if err != nil {
		return err
	}

	targetType, err := eng.GetType(targetID)
	if err != nil {
		return err
	}
	if targetType == inode.TypeDirectory {
		entries, err := ReadDirectory(eng, targetID)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return errors.New(errors.KindNotEmpty)
		}
	}

	if err := eng.RemoveFile(targetID); err != nil {
		return err
	}

	content, err := eng.ReadFile(parent)
	if err != nil {
		return err
	}
	updated := RmFromDirectory(string(content), name)
	return eng.WriteFile(parent, []byte(updated))
}
