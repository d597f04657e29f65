package block_test

import (
	"bytes"
	"testing"

	"github.com/go-chfs/chfs/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newDevice(t *testing.T, totalBlocks, blockSize uint32) *block.Device {
	t.Helper()
	backing := make([]byte, uint64(totalBlocks)*uint64(blockSize))
	stream := bytesextra.NewReadWriteSeeker(backing)
	return block.New(stream, totalBlocks, blockSize)
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev := newDevice(t, 8, 16)

	payload := bytes.Repeat([]byte{0xAB}, 16)
	require.NoError(t, dev.WriteBlock(3, payload))

	buf := make([]byte, 16)
	require.NoError(t, dev.ReadBlock(3, buf))
	assert.Equal(t, payload, buf)
}

func TestReadWriteDoNotClobberNeighbors(t *testing.T) {
	dev := newDevice(t, 4, 8)

	require.NoError(t, dev.WriteBlock(0, bytes.Repeat([]byte{1}, 8)))
	require.NoError(t, dev.WriteBlock(1, bytes.Repeat([]byte{2}, 8)))

	buf := make([]byte, 8)
	require.NoError(t, dev.ReadBlock(0, buf))
	assert.Equal(t, bytes.Repeat([]byte{1}, 8), buf)

	require.NoError(t, dev.ReadBlock(1, buf))
	assert.Equal(t, bytes.Repeat([]byte{2}, 8), buf)
}

func TestOutOfRangeBlockIDFails(t *testing.T) {
	dev := newDevice(t, 4, 8)

	buf := make([]byte, 8)
	assert.Error(t, dev.ReadBlock(4, buf))
	assert.Error(t, dev.WriteBlock(100, buf))
}

func TestWrongSizeBufferFails(t *testing.T) {
	dev := newDevice(t, 4, 8)

	assert.Error(t, dev.ReadBlock(0, make([]byte, 4)))
	assert.Error(t, dev.WriteBlock(0, make([]byte, 100)))
}

func TestZeroBlock(t *testing.T) {
	dev := newDevice(t, 2, 8)
	require.NoError(t, dev.WriteBlock(0, bytes.Repeat([]byte{0xFF}, 8)))
	require.NoError(t, dev.ZeroBlock(0))

	buf := make([]byte, 8)
	require.NoError(t, dev.ReadBlock(0, buf))
	assert.Equal(t, make([]byte, 8), buf)
}
