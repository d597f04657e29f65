package inode_test

import (
	"testing"

	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectBlockCountFitsOneBlock(t *testing.T) {
	d := inode.DirectBlockCount(4096)
	assert.Greater(t, d, 0)
	// 36-byte header (type, padding, four u64 attributes) + direct slots +
	// one indirect slot must fit in the block.
	assert.LessOrEqual(t, 36+(d+1)*4, 4096)
	// d is maximal: one more slot would overflow.
	assert.Greater(t, 36+(d+2)*4, 4096)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const blockSize = 256
	raw := inode.NewRaw(inode.TypeFile, blockSize)
	raw.Attr.Size = 123
	raw.Attr.Mtime = 99
	raw.SetBlockDirect(0, block.ID(7))
	raw.Indirect = block.ID(9)

	buf := raw.Encode(blockSize)
	decoded, err := inode.Decode(buf, blockSize)
	require.NoError(t, err)

	assert.Equal(t, inode.TypeFile, decoded.Type)
	assert.Equal(t, uint64(123), decoded.Attr.Size)
	assert.Equal(t, uint64(99), decoded.Attr.Mtime)
	assert.Equal(t, block.ID(7), decoded.GetBlockDirect(0))
	assert.Equal(t, block.ID(9), decoded.GetIndirectBlockID())
}

func TestIsDirectBlock(t *testing.T) {
	raw := inode.NewRaw(inode.TypeDirectory, 256)
	d := raw.GetDirectBlockNum()
	assert.True(t, raw.IsDirectBlock(0))
	assert.True(t, raw.IsDirectBlock(d-1))
	assert.False(t, raw.IsDirectBlock(d))
}

func TestMaxFileSize(t *testing.T) {
	raw := inode.NewRaw(inode.TypeFile, 256)
	want := (uint64(raw.GetDirectBlockNum()) + 256/4) * 256
	assert.Equal(t, want, raw.MaxFileSzSupported(256))
	assert.Equal(t, want, inode.MaxFileSize(256))
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := inode.Decode(make([]byte, 10), 256)
	assert.Error(t, err)
}
