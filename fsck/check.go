// Package fsck implements a read-only consistency checker over a mounted
// chfs filesystem: it walks the allocator, the inode table, and the
// directory tree, and reports every invariant violation it finds rather
// than stopping at the first one. Grounded on disko's driver-level
// validation helpers, using hashicorp/go-multierror to aggregate findings
// the way disko aggregates DriverError causes.
package fsck

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	chfs "github.com/go-chfs/chfs"
	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/directory"
	"github.com/go-chfs/chfs/inode"
)

// Report collects every violation found during a single Check run.
type Report struct {
	errs *multierror.Error
}

// Err returns the aggregated error, or nil if no violation was found.
func (r *Report) Err() error {
	if r.errs == nil || len(r.errs.Errors) == 0 {
		return nil
	}
	return r.errs
}

// Len returns the number of violations found.
func (r *Report) Len() int {
	if r.errs == nil {
		return 0
	}
	return len(r.errs.Errors)
}

func (r *Report) add(format string, args ...any) {
	r.errs = multierror.Append(r.errs, fmt.Errorf(format, args...))
}

// Check walks fs and reports every violation of:
//
//   - every block referenced by a live inode (direct, indirect, and the
//     indirect pointer block itself) is marked used in the allocator;
//   - every referenced block id is in range;
//   - the root inode (id 1) exists and is a directory;
//   - every directory's entries resolve to a live inode and have pairwise
//     distinct names;
//   - the number of data blocks referenced by each inode matches
//     ceil(size / blockSize).
//
// It never mutates fs; a caller wanting to repair violations must do so
// separately.
func Check(fs *chfs.FileSystem) *Report {
	r := &Report{}

	checkRootExists(fs, r)

	seen := map[block.ID]inode.ID{}
	for _, id := range fs.Engine.AllocatedInodeIDs() {
		checkInode(fs, r, id, seen)
	}

	checkDirectoryTree(fs, r, inode.Root, map[inode.ID]bool{})

	return r
}

func checkRootExists(fs *chfs.FileSystem, r *Report) {
	t, err := fs.Engine.GetType(inode.Root)
	if err != nil {
		r.add("root inode %d: %v", inode.Root, err)
		return
	}
	if t != inode.TypeDirectory {
		r.add("root inode %d: expected directory, got type %d", inode.Root, t)
	}
}

// checkInode verifies one inode's block references are in-range, marked
// used, and not double-claimed by a second inode (invariant 1: a block id
// belongs to at most one owner).
func checkInode(fs *chfs.FileSystem, r *Report, id inode.ID, seen map[block.ID]inode.ID) {
	raw, err := fs.Engine.ReadRawInode(id)
	if err != nil {
		r.add("inode %d: %v", id, err)
		return
	}

	blockSize := uint64(fs.Engine.BlockSize())
	need := raw.Attr.Size / blockSize
	if raw.Attr.Size%blockSize != 0 {
		need++
	}

	var referenced []block.ID
	for k := uint64(0); k < need; k++ {
		if raw.IsDirectBlock(int(k)) {
			referenced = append(referenced, raw.GetBlockDirect(int(k)))
		}
	}
	for k := int(need); k < raw.GetDirectBlockNum(); k++ {
		if raw.GetBlockDirect(k) != block.Invalid {
			r.add("inode %d: direct slot %d holds block %d beyond its %d size-implied blocks", id, k, raw.GetBlockDirect(k), need)
		}
	}

	hasIndirect := raw.GetIndirectBlockID() != block.Invalid
	wantsIndirect := int(need) > raw.GetDirectBlockNum()
	if hasIndirect != wantsIndirect {
		r.add("inode %d: indirect pointer presence %v does not match size-implied need %v", id, hasIndirect, wantsIndirect)
	}

	if hasIndirect {
		referenced = append(referenced, raw.GetIndirectBlockID())
		ids, err := fs.Engine.IndirectBlockIDs(raw)
		if err != nil {
			r.add("inode %d: reading indirect block: %v", id, err)
		} else {
			for k := raw.GetDirectBlockNum(); k < int(need); k++ {
				idx := k - raw.GetDirectBlockNum()
				if idx < len(ids) {
					referenced = append(referenced, ids[idx])
				}
			}
			for idx := max(int(need)-raw.GetDirectBlockNum(), 0); idx < len(ids); idx++ {
				if ids[idx] != block.Invalid {
					r.add("inode %d: indirect slot %d holds block %d beyond its %d size-implied blocks", id, idx, ids[idx], need)
				}
			}
		}
	}

	for _, bid := range referenced {
		if bid == block.Invalid {
			r.add("inode %d: holds an INVALID block reference within its live range", id)
			continue
		}
		if !fs.Engine.IsBlockUsed(bid) {
			r.add("inode %d: references block %d which the allocator marks free", id, bid)
		}
		if owner, ok := seen[bid]; ok {
			r.add("inode %d and inode %d both reference block %d", owner, id, bid)
		} else {
			seen[bid] = id
		}
	}
}

// checkDirectoryTree recurses over directory inodes starting at dirID,
// checking for duplicate entry names (invariant 5) and for entries
// pointing at inodes that don't exist. visited guards against cycles
// introduced by a corrupted image.
func checkDirectoryTree(fs *chfs.FileSystem, r *Report, dirID inode.ID, visited map[inode.ID]bool) {
	if visited[dirID] {
		r.add("directory %d: cycle detected while walking the tree", dirID)
		return
	}
	visited[dirID] = true

	t, err := fs.Engine.GetType(dirID)
	if err != nil {
		r.add("directory %d: %v", dirID, err)
		return
	}
	if t != inode.TypeDirectory {
		return
	}

	entries, err := directory.ReadDirectory(fs.Engine, dirID)
	if err != nil {
		r.add("directory %d: %v", dirID, err)
		return
	}

	names := map[string]bool{}
	for _, e := range entries {
		if names[e.Name] {
			r.add("directory %d: duplicate entry name %q", dirID, e.Name)
		}
		names[e.Name] = true

		childType, err := fs.Engine.GetType(e.ID)
		if err != nil {
			r.add("directory %d: entry %q points at nonexistent inode %d", dirID, e.Name, e.ID)
			continue
		}
		if childType == inode.TypeDirectory {
			checkDirectoryTree(fs, r, e.ID, visited)
		}
	}
}
