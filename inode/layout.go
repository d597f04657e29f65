// Package inode implements the on-disk inode record layout and the table
// that maps inode ids to the block holding each record. Grounded on
// disko's drivers/unixv1/inode.go (RawInode / Inode split) and on
// original_source/src/filesystem/data_op.cc, which this package supplies
// block ids and attributes to.
//
// Per the redesign guidance that raw struct-reinterpretation of byte
// buffers is unsound, every field is read and written through explicit
// encode/decode helpers rather than by punning a []byte as a Go struct.
package inode

import (
	"encoding/binary"

	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/errors"
)

// Type identifies what kind of object an inode describes.
type Type uint8

const (
	TypeFile Type = iota + 1
	TypeDirectory
)

// Attr is the timestamp/size metadata carried by every inode, expressed as
// seconds since the Unix epoch.
type Attr struct {
	Size  uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
}

// header layout, little-endian throughout (endianness is otherwise
// unspecified; little-endian is chosen here and fixed for the whole on-disk
// format):
//
//	type    uint8   offset 0
//	(pad)   3 bytes
//	size    uint64  offset 4
//	atime   uint64  offset 12
//	mtime   uint64  offset 20
//	ctime   uint64  offset 28
//	indirect block.ID (uint32) offset 36
//	direct[D] block.ID (uint32) offset 40
const (
	headerSize  = 40
	blockIDSize = 4
)

// Raw is a decoded view of one inode record block. It owns no buffer of its
// own; callers decode into it, mutate it, and re-encode it back into the
// same (or a fresh) block-sized buffer.
type Raw struct {
	Type     Type
	Attr     Attr
	Indirect block.ID
	Direct   []block.ID
}

// DirectBlockCount returns D, the largest number of direct block-id slots
// that fit in a record alongside the header and one indirect-pointer slot,
// for a device with the given block size.
func DirectBlockCount(blockSize uint32) int {
	d := (int(blockSize) - headerSize) / blockIDSize
	if d < 0 {
		return 0
	}
	return d
}

// MaxFileSize returns the largest byte length a file can reach given D
// direct slots and a block size B: (D + B/sizeof(block id)) * B.
func MaxFileSize(blockSize uint32) uint64 {
	d := uint64(DirectBlockCount(blockSize))
	idsPerIndirect := uint64(blockSize) / blockIDSize
	return (d + idsPerIndirect) * uint64(blockSize)
}

// NewRaw builds a zeroed inode record of the given type, sized for
// blockSize.
func NewRaw(t Type, blockSize uint32) *Raw {
	return &Raw{
		Type:     t,
		Indirect: block.Invalid,
		Direct:   make([]block.ID, DirectBlockCount(blockSize)),
	}
}

// Decode parses a block-sized buffer into a Raw inode record.
func Decode(buf []byte, blockSize uint32) (*Raw, error) {
	if uint32(len(buf)) != blockSize {
		return nil, errors.NewWithMessage(errors.KindInvalidArg, "inode buffer is not one block long")
	}
	d := DirectBlockCount(blockSize)
	if headerSize+d*blockIDSize > len(buf) {
		return nil, errors.NewWithMessage(errors.KindInvalidArg, "block too small for inode layout")
	}

	r := &Raw{
		Type: Type(buf[0]),
		Attr: Attr{
			Size:  binary.LittleEndian.Uint64(buf[4:12]),
			Atime: binary.LittleEndian.Uint64(buf[12:20]),
			Mtime: binary.LittleEndian.Uint64(buf[20:28]),
			Ctime: binary.LittleEndian.Uint64(buf[28:36]),
		},
		Indirect: block.ID(binary.LittleEndian.Uint32(buf[36:40])),
		Direct:   make([]block.ID, d),
	}
	for i := 0; i < d; i++ {
		off := headerSize + i*blockIDSize
		r.Direct[i] = block.ID(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return r, nil
}

// Encode serializes r into a freshly allocated block-sized buffer.
func (r *Raw) Encode(blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[4:12], r.Attr.Size)
	binary.LittleEndian.PutUint64(buf[12:20], r.Attr.Atime)
	binary.LittleEndian.PutUint64(buf[20:28], r.Attr.Mtime)
	binary.LittleEndian.PutUint64(buf[28:36], r.Attr.Ctime)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(r.Indirect))
	for i, id := range r.Direct {
		off := headerSize + i*blockIDSize
		if off+4 > len(buf) {
			break
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(id))
	}
	return buf
}

// GetDirectBlockNum returns D for this record.
func (r *Raw) GetDirectBlockNum() int {
	return len(r.Direct)
}

// IsDirectBlock reports whether logical block index idx is stored in the
// direct table rather than the indirect block.
func (r *Raw) IsDirectBlock(idx int) bool {
	return idx < len(r.Direct)
}

// GetBlockDirect returns the block id stored at direct slot i.
func (r *Raw) GetBlockDirect(i int) block.ID {
	return r.Direct[i]
}

// SetBlockDirect stores id at direct slot i.
func (r *Raw) SetBlockDirect(i int, id block.ID) {
	r.Direct[i] = id
}

// GetIndirectBlockID returns the stored indirect-block pointer, or
// block.Invalid if none is allocated.
func (r *Raw) GetIndirectBlockID() block.ID {
	return r.Indirect
}

// InvalidateIndirectBlockID clears the indirect pointer.
func (r *Raw) InvalidateIndirectBlockID() {
	r.Indirect = block.Invalid
}

// blockAllocator is the subset of bitmap.Allocator's surface the inode
// layout needs; declared here to avoid a dependency cycle with package
// bitmap.
type blockAllocator interface {
	Allocate() (block.ID, error)
}

// blockWriter is the subset of block.Device's surface needed to persist an
// indirect block.
type blockWriter interface {
	ZeroBlock(id block.ID) error
	WriteBlock(id block.ID, buf []byte) error
}

// GetOrInsertIndirectBlock allocates and zeroes a fresh indirect block if
// none is attached yet, returning its id either way.
func (r *Raw) GetOrInsertIndirectBlock(dev blockWriter, alloc blockAllocator) (block.ID, error) {
	if r.Indirect != block.Invalid {
		return r.Indirect, nil
	}
	id, err := alloc.Allocate()
	if err != nil {
		return block.Invalid, err
	}
	if err := dev.ZeroBlock(id); err != nil {
		return block.Invalid, err
	}
	r.Indirect = id
	return id, nil
}

// WriteIndirectBlock persists buf, a decoded array of block ids, to the
// record's indirect block.
func (r *Raw) WriteIndirectBlock(dev blockWriter, ids []block.ID, blockSize uint32) error {
	buf := make([]byte, blockSize)
	for i, id := range ids {
		off := i * blockIDSize
		if off+4 > len(buf) {
			break
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(id))
	}
	return dev.WriteBlock(r.Indirect, buf)
}

// DecodeIndirectBlock parses a raw indirect block into its array of block
// ids.
func DecodeIndirectBlock(buf []byte) []block.ID {
	n := len(buf) / blockIDSize
	ids := make([]block.ID, n)
	for i := 0; i < n; i++ {
		ids[i] = block.ID(binary.LittleEndian.Uint32(buf[i*blockIDSize : i*blockIDSize+4]))
	}
	return ids
}

// MaxFileSzSupported returns the maximum byte length this record's layout
// can address, given blockSize.
func (r *Raw) MaxFileSzSupported(blockSize uint32) uint64 {
	idsPerIndirect := uint64(blockSize) / blockIDSize
	return (uint64(len(r.Direct)) + idsPerIndirect) * uint64(blockSize)
}
