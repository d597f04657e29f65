package inode_test

import (
	"testing"

	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/errors"
	"github.com/go-chfs/chfs/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newManager(t *testing.T, maxInodes uint32) (*inode.Manager, *block.Device) {
	t.Helper()
	const blockSize = 256
	const totalBlocks = 64
	backing := make([]byte, uint64(totalBlocks)*blockSize)
	dev := block.New(bytesextra.NewReadWriteSeeker(backing), totalBlocks, blockSize)
	return inode.New(dev, 1, 4, maxInodes), dev
}

func TestAllocateInodeSkipsReservedSlotZero(t *testing.T) {
	m, _ := newManager(t, 16)

	id, err := m.AllocateInode(inode.TypeDirectory, block.ID(10))
	require.NoError(t, err)
	assert.Equal(t, inode.Root, id)
}

func TestReadInodeReflectsInitializedRecord(t *testing.T) {
	m, _ := newManager(t, 16)

	id, err := m.AllocateInode(inode.TypeFile, block.ID(20))
	require.NoError(t, err)

	raw, err := m.ReadInode(id)
	require.NoError(t, err)
	assert.Equal(t, inode.TypeFile, raw.Type)
	assert.Equal(t, uint64(0), raw.Attr.Size)
	assert.NotZero(t, raw.Attr.Atime)
	assert.NotZero(t, raw.Attr.Mtime)
	assert.NotZero(t, raw.Attr.Ctime)
}

func TestReadUnknownInodeIsNotExist(t *testing.T) {
	m, _ := newManager(t, 16)

	_, err := m.ReadInode(inode.ID(5))
	require.Error(t, err)
	chfsErr, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.KindNotExist, chfsErr.Kind)
}

func TestReleaseInodeFreesSlotForReuse(t *testing.T) {
	m, _ := newManager(t, 16)

	id, err := m.AllocateInode(inode.TypeFile, block.ID(20))
	require.NoError(t, err)
	require.NoError(t, m.ReleaseInode(id))

	_, err = m.ReadInode(id)
	assert.Error(t, err)

	reused, err := m.AllocateInode(inode.TypeDirectory, block.ID(21))
	require.NoError(t, err)
	assert.Equal(t, id, reused)
}

func TestAllocateInodeOutOfResource(t *testing.T) {
	m, _ := newManager(t, 2) // only slot 1 usable, slot 0 reserved

	_, err := m.AllocateInode(inode.TypeFile, block.ID(5))
	require.NoError(t, err)

	_, err = m.AllocateInode(inode.TypeFile, block.ID(6))
	require.Error(t, err)
	chfsErr, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.KindOutOfResource, chfsErr.Kind)
}

func TestLoadRoundTripsTableRegion(t *testing.T) {
	m, dev := newManager(t, 16)

	id, err := m.AllocateInode(inode.TypeFile, block.ID(30))
	require.NoError(t, err)

	reloaded, err := inode.Load(dev, 1, 4, 16)
	require.NoError(t, err)

	bid, err := reloaded.BlockIDOf(id)
	require.NoError(t, err)
	assert.Equal(t, block.ID(30), bid)
}

func TestGetTypeAttr(t *testing.T) {
	m, _ := newManager(t, 16)

	id, err := m.AllocateInode(inode.TypeDirectory, block.ID(40))
	require.NoError(t, err)

	typ, attr, err := m.GetTypeAttr(id)
	require.NoError(t, err)
	assert.Equal(t, inode.TypeDirectory, typ)
	assert.Equal(t, uint64(0), attr.Size)
}
