// Package block implements the fixed-size block device abstraction the rest
// of chfs is built on: a dense array of N equal-size blocks, addressed by
// unsigned integer id, backed by any io.ReadWriteSeeker (an in-memory arena
// for tests, or a file for the daemon).
package block

import (
	"io"

	"github.com/go-chfs/chfs/errors"
)

// ID is a block identifier. Id 0 is reserved: in a formatted image it holds
// the superblock and is permanently marked in-use (see chfs.Format), so it
// can never be handed out as a data block and safely doubles as the sentinel
// "no block" value stored in unused inode/indirect-block slots.
type ID uint32

// Invalid is the sentinel block id meaning "no block".
const Invalid ID = 0

// Device is a fixed-count array of equal-size byte buffers addressed by
// block id, grounded on disko's BlockDevice (drivers/common/blockdevice.go)
// but narrowed to the single-block read/write contract §4.1 requires.
type Device struct {
	stream      io.ReadWriteSeeker
	blockSize   uint32
	totalBlocks uint32
}

// New wraps stream as a block device with totalBlocks blocks of blockSize
// bytes each. The stream must already be at least totalBlocks*blockSize
// bytes long if it backs a pre-existing image.
func New(stream io.ReadWriteSeeker, totalBlocks, blockSize uint32) *Device {
	return &Device{stream: stream, blockSize: blockSize, totalBlocks: totalBlocks}
}

// BlockSize returns B, the number of bytes in a single block.
func (d *Device) BlockSize() uint32 {
	return d.blockSize
}

// TotalBlocks returns N, the number of blocks on the device.
func (d *Device) TotalBlocks() uint32 {
	return d.totalBlocks
}

func (d *Device) checkID(id ID) error {
	if uint32(id) >= d.totalBlocks {
		return errors.NewWithMessage(
			errors.KindInvalidArg,
			"block id out of range",
		)
	}
	return nil
}

func (d *Device) offsetOf(id ID) int64 {
	return int64(id) * int64(d.blockSize)
}

// ReadBlock fills buf with exactly BlockSize bytes read from block id. buf
// must be exactly BlockSize bytes long.
func (d *Device) ReadBlock(id ID, buf []byte) error {
	if err := d.checkID(id); err != nil {
		return err
	}
	if uint32(len(buf)) != d.blockSize {
		return errors.NewWithMessage(errors.KindInvalidArg, "buffer is not one block long")
	}

	if _, err := d.stream.Seek(d.offsetOf(id), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(d.stream, buf)
	return err
}

// WriteBlock persists exactly BlockSize bytes of buf to block id.
func (d *Device) WriteBlock(id ID, buf []byte) error {
	if err := d.checkID(id); err != nil {
		return err
	}
	if uint32(len(buf)) != d.blockSize {
		return errors.NewWithMessage(errors.KindInvalidArg, "buffer is not one block long")
	}

	if _, err := d.stream.Seek(d.offsetOf(id), io.SeekStart); err != nil {
		return err
	}
	_, err := d.stream.Write(buf)
	return err
}

// ZeroBlock writes a full block of null bytes to id.
func (d *Device) ZeroBlock(id ID) error {
	return d.WriteBlock(id, make([]byte, d.blockSize))
}
