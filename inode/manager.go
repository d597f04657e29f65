package inode

import (
	"encoding/binary"
	"time"

	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/errors"
)

func now() uint64 {
	return uint64(time.Now().Unix())
}

// ID identifies an inode. 0 is reserved as INVALID; id 1 is always the root
// directory after a fresh format.
type ID uint32

// Invalid is the sentinel inode id.
const Invalid ID = 0

// Root is the inode id the root directory always receives on fresh
// initialization.
const Root ID = 1

const tableEntrySize = 4 // sizeof(block.ID) on disk

// Manager maintains the bijection inode id -> block id holding that inode's
// on-disk record. The table itself lives in a contiguous region of the
// device, grounded on disko's InodeManager split between a bitmap of
// allocated slots and a table of block references
// (drivers/unixv1/inode.go).
type Manager struct {
	device       *block.Device
	tableStart   block.ID
	tableBlocks  uint32
	maxInodes    uint32
	table        []block.ID // table[0] unused, slot 0 reserved
}

// New builds a fresh, all-INVALID inode table over tableBlocks blocks
// starting at tableStart, sized for maxInodes entries.
func New(device *block.Device, tableStart block.ID, tableBlocks uint32, maxInodes uint32) *Manager {
	return &Manager{
		device:      device,
		tableStart:  tableStart,
		tableBlocks: tableBlocks,
		maxInodes:   maxInodes,
		table:       make([]block.ID, maxInodes),
	}
}

// Load reconstructs a Manager by reading an existing table region back from
// the device.
func Load(device *block.Device, tableStart block.ID, tableBlocks uint32, maxInodes uint32) (*Manager, error) {
	m := New(device, tableStart, tableBlocks, maxInodes)
	blockSize := device.BlockSize()
	buf := make([]byte, blockSize)
	entriesPerBlock := blockSize / tableEntrySize

	for b := uint32(0); b < tableBlocks; b++ {
		if err := device.ReadBlock(block.ID(uint32(tableStart)+b), buf); err != nil {
			return nil, err
		}
		for i := uint32(0); i < entriesPerBlock; i++ {
			idx := b*entriesPerBlock + i
			if idx >= maxInodes {
				break
			}
			off := i * tableEntrySize
			m.table[idx] = block.ID(binary.LittleEndian.Uint32(buf[off : off+4]))
		}
	}
	return m, nil
}

func (m *Manager) flushEntry(id ID) error {
	blockSize := m.device.BlockSize()
	entriesPerBlock := blockSize / tableEntrySize
	relativeBlock := uint32(id) / entriesPerBlock
	if relativeBlock >= m.tableBlocks {
		return errors.NewWithMessage(errors.KindInvalidArg, "inode id outside table region")
	}

	buf := make([]byte, blockSize)
	base := relativeBlock * entriesPerBlock
	for i := uint32(0); i < entriesPerBlock; i++ {
		idx := base + i
		if idx >= m.maxInodes {
			break
		}
		binary.LittleEndian.PutUint32(buf[i*tableEntrySize:i*tableEntrySize+4], uint32(m.table[idx]))
	}
	return m.device.WriteBlock(block.ID(uint32(m.tableStart)+relativeBlock), buf)
}

// AllocateInode finds the first free table slot, binds it to blockID, writes
// a freshly initialized inode record of the given type and current timestamps
// at blockID, and returns the new inode id.
func (m *Manager) AllocateInode(t Type, blockID block.ID) (ID, error) {
	slot := ID(0)
	found := false
	for i := uint32(1); i < m.maxInodes; i++ {
		if m.table[i] == block.Invalid {
			slot = ID(i)
			found = true
			break
		}
	}
	if !found {
		return Invalid, errors.New(errors.KindOutOfResource)
	}

	m.table[slot] = blockID
	if err := m.flushEntry(slot); err != nil {
		m.table[slot] = block.Invalid
		return Invalid, err
	}

	raw := NewRaw(t, m.device.BlockSize())
	stamp := now()
	raw.Attr.Atime, raw.Attr.Mtime, raw.Attr.Ctime = stamp, stamp, stamp
	if err := m.device.WriteBlock(blockID, raw.Encode(m.device.BlockSize())); err != nil {
		m.table[slot] = block.Invalid
		_ = m.flushEntry(slot)
		return Invalid, err
	}
	return slot, nil
}

// ReleaseInode clears the table slot for id, freeing it for reuse.
func (m *Manager) ReleaseInode(id ID) error {
	if err := m.checkID(id); err != nil {
		return err
	}
	m.table[id] = block.Invalid
	return m.flushEntry(id)
}

func (m *Manager) checkID(id ID) error {
	if id == Invalid || uint32(id) >= m.maxInodes {
		return errors.New(errors.KindNotExist)
	}
	if m.table[id] == block.Invalid {
		return errors.New(errors.KindNotExist)
	}
	return nil
}

// AllocatedIDs returns every inode id currently bound to a table slot, in
// ascending order. Used by the consistency checker to walk the whole table
// without needing to know which ids are live ahead of time.
func (m *Manager) AllocatedIDs() []ID {
	var ids []ID
	for i := uint32(1); i < m.maxInodes; i++ {
		if m.table[i] != block.Invalid {
			ids = append(ids, ID(i))
		}
	}
	return ids
}

// BlockIDOf returns the block id holding id's inode record.
func (m *Manager) BlockIDOf(id ID) (block.ID, error) {
	if err := m.checkID(id); err != nil {
		return block.Invalid, err
	}
	return m.table[id], nil
}

// ReadInode loads the full decoded record for id.
func (m *Manager) ReadInode(id ID) (*Raw, error) {
	bid, err := m.BlockIDOf(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, m.device.BlockSize())
	if err := m.device.ReadBlock(bid, buf); err != nil {
		return nil, err
	}
	return Decode(buf, m.device.BlockSize())
}

// WriteInode persists raw as the on-disk record for id.
func (m *Manager) WriteInode(id ID, raw *Raw) error {
	bid, err := m.BlockIDOf(id)
	if err != nil {
		return err
	}
	return m.device.WriteBlock(bid, raw.Encode(m.device.BlockSize()))
}

// GetAttr returns the attribute block of id's inode.
func (m *Manager) GetAttr(id ID) (Attr, error) {
	raw, err := m.ReadInode(id)
	if err != nil {
		return Attr{}, err
	}
	return raw.Attr, nil
}

// GetType returns the type of id's inode.
func (m *Manager) GetType(id ID) (Type, error) {
	raw, err := m.ReadInode(id)
	if err != nil {
		return 0, err
	}
	return raw.Type, nil
}

// GetTypeAttr returns both type and attribute in one record read.
func (m *Manager) GetTypeAttr(id ID) (Type, Attr, error) {
	raw, err := m.ReadInode(id)
	if err != nil {
		return 0, Attr{}, err
	}
	return raw.Type, raw.Attr, nil
}
