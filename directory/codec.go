// Package directory implements the textual directory encoding that sits on
// top of whole-file I/O, and the directory operations (lookup, create,
// unlink, read) built from it. Grounded on
// original_source/src/filesystem/directory_op.cc.
package directory

import (
	"strconv"
	"strings"

	"github.com/go-chfs/chfs/inode"
)

// Entry is one (name, inode id) pair inside a directory body.
type Entry struct {
	Name string
	ID   inode.ID
}

// DirListToString encodes entries as "name_1:id_1/name_2:id_2/.../name_k:id_k".
// Names must not contain ':' or '/'; this is never validated here.
func DirListToString(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Name + ":" + strconv.FormatUint(uint64(e.ID), 10)
	}
	return strings.Join(parts, "/")
}

// AppendToDirectory returns s with a new entry appended, terminated by the
// '/' delimiter convention that makes RmFromDirectory's removal simple.
func AppendToDirectory(s, name string, id inode.ID) string {
	return s + name + ":" + strconv.FormatUint(uint64(id), 10) + "/"
}

// ParseDirectory splits s into its entries. It accepts both a trailing '/'
// (the convention AppendToDirectory produces) and no trailing '/' (the
// convention DirListToString produces), so that parsing round-trips either
// encoding.
func ParseDirectory(s string) []Entry {
	if s == "" {
		return nil
	}
	segments := strings.Split(s, "/")
	entries := make([]Entry, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		name, idStr, found := strings.Cut(seg, ":")
		if !found {
			continue
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: name, ID: inode.ID(id)})
	}
	return entries
}

// RmFromDirectory removes the first entry named name from s, including its
// trailing delimiter. Names are unique by invariant, so only the first
// occurrence is ever present.
func RmFromDirectory(s, name string) string {
	prefix := name + ":"
	start := -1
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], prefix)
		if i < 0 {
			break
		}
		if off+i == 0 || s[off+i-1] == '/' {
			start = off + i
			break
		}
		off += i + 1
	}
	if start < 0 {
		return s
	}
	end := strings.IndexByte(s[start:], '/')
	if end < 0 {
		return s[:start]
	}
	return s[:start] + s[start+end+1:]
}
