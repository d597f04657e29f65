// Package chfs wires together the block device, bitmap allocator, and inode
// manager into a ready-to-use fileop.Engine, and owns the on-disk region
// layout: a fixed-offset superblock, the free-block bitmap, the inode
// table, and the remaining pool of data blocks. Grounded on disko's
// driver construction pattern (drivers/common/blockmanager.go,
// drivers/common/allocatormap.go).
package chfs

import (
	"encoding/binary"

	"github.com/go-chfs/chfs/bitmap"
	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/errors"
	"github.com/go-chfs/chfs/fileop"
	"github.com/go-chfs/chfs/inode"
)

const superblockMagic = 0x63686673 // "chfs" in ASCII hex, little-endian on disk

// Layout describes where each region of a formatted device begins, in
// blocks.
type Layout struct {
	BlockSize      uint32
	TotalBlocks    uint32
	MaxInodes      uint32
	BitmapBlocks   uint32
	InodeTableStart block.ID
	InodeTableBlocks uint32
	FirstDataBlock block.ID
}

func ceilDivU32(a, b uint32) uint32 {
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// PlanLayout computes the region layout for a device of totalBlocks blocks
// of blockSize bytes, supporting up to maxInodes inodes. Block 0 holds the
// superblock.
func PlanLayout(totalBlocks, blockSize, maxInodes uint32) Layout {
	bitmapBlocks := ceilDivU32(totalBlocks, 8*blockSize)
	tableEntrySize := uint32(4)
	tableBlocks := ceilDivU32(maxInodes*tableEntrySize, blockSize)

	// Region 0 is the superblock itself (one block), followed by the
	// bitmap, then the inode table, then the data pool.
	bitmapStart := block.ID(1)
	tableStart := block.ID(uint32(bitmapStart) + bitmapBlocks)
	firstData := block.ID(uint32(tableStart) + tableBlocks)

	return Layout{
		BlockSize:        blockSize,
		TotalBlocks:      totalBlocks,
		MaxInodes:        maxInodes,
		BitmapBlocks:     bitmapBlocks,
		InodeTableStart:  tableStart,
		InodeTableBlocks: tableBlocks,
		FirstDataBlock:   firstData,
	}
}

// FileSystem bundles the fully wired engine together with the layout and
// device it was built from, so a caller (the mount adapter, fsck, the CLI)
// can tear it down cleanly.
type FileSystem struct {
	Layout Layout
	Device *block.Device
	Engine *fileop.Engine
}

func writeSuperblock(dev *block.Device, layout Layout) error {
	buf := make([]byte, dev.BlockSize())
	binary.LittleEndian.PutUint32(buf[0:4], superblockMagic)
	binary.LittleEndian.PutUint32(buf[4:8], layout.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], layout.BlockSize)
	binary.LittleEndian.PutUint32(buf[12:16], layout.MaxInodes)
	binary.LittleEndian.PutUint32(buf[16:20], layout.BitmapBlocks)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(layout.InodeTableStart))
	binary.LittleEndian.PutUint32(buf[24:28], layout.InodeTableBlocks)
	return dev.WriteBlock(block.ID(0), buf)
}

func readSuperblock(dev *block.Device) (Layout, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(block.ID(0), buf); err != nil {
		return Layout{}, err
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != superblockMagic {
		return Layout{}, errors.NewWithMessage(errors.KindInvalidArg, "not a chfs image: bad superblock magic")
	}
	l := Layout{
		TotalBlocks:      binary.LittleEndian.Uint32(buf[4:8]),
		BlockSize:        binary.LittleEndian.Uint32(buf[8:12]),
		MaxInodes:        binary.LittleEndian.Uint32(buf[12:16]),
		BitmapBlocks:     binary.LittleEndian.Uint32(buf[16:20]),
		InodeTableStart:  block.ID(binary.LittleEndian.Uint32(buf[20:24])),
		InodeTableBlocks: binary.LittleEndian.Uint32(buf[24:28]),
	}
	l.FirstDataBlock = block.ID(uint32(l.InodeTableStart) + l.InodeTableBlocks)
	return l, nil
}

// Format lays out a fresh filesystem over dev: writes the superblock,
// builds a fresh bitmap with the bitmap and inode-table regions reserved,
// builds an empty inode table, and creates the root directory at inode id 1.
func Format(dev *block.Device, maxInodes uint32) (*FileSystem, error) {
	layout := PlanLayout(dev.TotalBlocks(), dev.BlockSize(), maxInodes)
	if uint32(layout.FirstDataBlock) >= dev.TotalBlocks() {
		return nil, errors.NewWithMessage(errors.KindInvalidArg, "device too small for requested inode table")
	}

	if err := writeSuperblock(dev, layout); err != nil {
		return nil, err
	}

	alloc := bitmap.New(dev, block.ID(1), layout.BitmapBlocks)
	if err := alloc.Reserve(block.ID(0)); err != nil {
		return nil, err
	}
	for i := uint32(0); i < layout.InodeTableBlocks; i++ {
		if err := alloc.Reserve(block.ID(uint32(layout.InodeTableStart) + i)); err != nil {
			return nil, err
		}
	}

	inodes := inode.New(dev, layout.InodeTableStart, layout.InodeTableBlocks, layout.MaxInodes)
	engine := fileop.New(dev, alloc, inodes)

	rootID, err := engine.AllocInode(inodetype())
	if err != nil {
		return nil, err
	}
	if rootID != inode.Root {
		return nil, errors.NewWithMessage(errors.KindInvalidArg, "root inode did not receive id 1")
	}

	return &FileSystem{Layout: layout, Device: dev, Engine: engine}, nil
}

func inodetype() inode.Type { return inode.TypeDirectory }

// Open reconstructs a FileSystem from an already-formatted device by
// reading back its superblock, bitmap, and inode table.
func Open(dev *block.Device) (*FileSystem, error) {
	layout, err := readSuperblock(dev)
	if err != nil {
		return nil, err
	}

	alloc, err := bitmap.Load(dev, block.ID(1), layout.BitmapBlocks)
	if err != nil {
		return nil, err
	}
	inodes, err := inode.Load(dev, layout.InodeTableStart, layout.InodeTableBlocks, layout.MaxInodes)
	if err != nil {
		return nil, err
	}

	engine := fileop.New(dev, alloc, inodes)
	return &FileSystem{Layout: layout, Device: dev, Engine: engine}, nil
}
