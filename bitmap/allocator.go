// Package bitmap implements the free-block allocator: an in-memory mirror
// of the bitmap region of a block.Device, written through to disk on every
// mutation. Grounded on disko's drivers/common/allocatormap.go and
// drivers/common/blockmanager.go, extended with a hint-based first-fit scan
// so repeated allocation doesn't rescan from block 0 every time.
package bitmap

import (
	"github.com/boljen/go-bitmap"
	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/errors"
)

// Allocator tracks which blocks of a device are in use via a bitmap stored
// in a contiguous prefix of the device (the "bitmap region"). Bit i set
// means block i is in use.
type Allocator struct {
	device      *block.Device
	firstBlock  block.ID
	blockCount  uint32
	totalUnits  uint32
	bits        bitmap.Bitmap
	hint        uint32
}

// New creates an allocator over a fresh bitmap region: every bit clear
// except those covering the bitmap region itself, which are marked
// permanently in use.
func New(device *block.Device, firstBlock block.ID, blockCount uint32) *Allocator {
	a := &Allocator{
		device:     device,
		firstBlock: firstBlock,
		blockCount: blockCount,
		totalUnits: device.TotalBlocks(),
		bits:       bitmap.New(int(device.TotalBlocks())),
	}
	for i := uint32(0); i < blockCount; i++ {
		a.bits.Set(int(firstBlock)+int(i), true)
	}
	return a
}

// Load reconstructs an allocator by reading an existing bitmap region back
// from the device.
func Load(device *block.Device, firstBlock block.ID, blockCount uint32) (*Allocator, error) {
	a := &Allocator{
		device:     device,
		firstBlock: firstBlock,
		blockCount: blockCount,
		totalUnits: device.TotalBlocks(),
		bits:       bitmap.New(int(device.TotalBlocks())),
	}

	buf := make([]byte, device.BlockSize())
	raw := a.bits.Data(false)
	for i := uint32(0); i < blockCount; i++ {
		if err := device.ReadBlock(block.ID(uint32(firstBlock)+i), buf); err != nil {
			return nil, err
		}
		copy(raw[uint32(len(buf))*i:], buf)
	}
	return a, nil
}

// flushBit persists only the bitmap block that covers bit index i.
func (a *Allocator) flushBit(i uint32) error {
	blockSize := a.device.BlockSize()
	bitsPerBlock := blockSize * 8
	relativeBlock := i / bitsPerBlock
	if relativeBlock >= a.blockCount {
		return errors.NewWithMessage(errors.KindInvalidArg, "bit outside bitmap region")
	}

	raw := a.bits.Data(false)
	start := relativeBlock * blockSize
	end := start + blockSize
	if end > uint32(len(raw)) {
		end = uint32(len(raw))
	}
	buf := make([]byte, blockSize)
	copy(buf, raw[start:end])
	return a.device.WriteBlock(block.ID(uint32(a.firstBlock)+relativeBlock), buf)
}

// Allocate scans for the first clear bit starting from a remembered hint,
// sets it, persists the affected bitmap block, and returns its block id.
// The hint advances to the chosen id + 1, wrapping on miss.
func (a *Allocator) Allocate() (block.ID, error) {
	for pass := 0; pass < 2; pass++ {
		start := a.hint
		end := a.totalUnits
		if pass == 1 {
			end = a.hint
			start = 0
		}
		for i := start; i < end; i++ {
			if !a.bits.Get(int(i)) {
				a.bits.Set(int(i), true)
				if err := a.flushBit(i); err != nil {
					a.bits.Set(int(i), false)
					return block.Invalid, err
				}
				a.hint = i + 1
				if a.hint >= a.totalUnits {
					a.hint = 0
				}
				return block.ID(i), nil
			}
		}
	}
	return block.Invalid, errors.New(errors.KindOutOfResource)
}

// Deallocate clears the bit for id. Double-free is detected and reported as
// KindInvalidArg.
func (a *Allocator) Deallocate(id block.ID) error {
	i := uint32(id)
	if i >= a.totalUnits {
		return errors.NewWithMessage(errors.KindInvalidArg, "block id out of range")
	}
	if !a.bits.Get(int(i)) {
		return errors.NewWithMessage(errors.KindInvalidArg, "double free of block")
	}
	a.bits.Set(int(i), false)
	return a.flushBit(i)
}

// Reserve marks id permanently allocated without going through Allocate,
// for metadata regions (e.g. the inode table) laid out at format time
// outside the bitmap region proper.
func (a *Allocator) Reserve(id block.ID) error {
	i := uint32(id)
	if i >= a.totalUnits {
		return errors.NewWithMessage(errors.KindInvalidArg, "block id out of range")
	}
	a.bits.Set(int(i), true)
	return a.flushBit(i)
}

// IsUsed reports whether block id is currently marked allocated.
func (a *Allocator) IsUsed(id block.ID) bool {
	i := uint32(id)
	if i >= a.totalUnits {
		return false
	}
	return a.bits.Get(int(i))
}

// FreeCount returns the number of clear bits.
func (a *Allocator) FreeCount() uint64 {
	free := uint64(0)
	for i := uint32(0); i < a.totalUnits; i++ {
		if !a.bits.Get(int(i)) {
			free++
		}
	}
	return free
}
