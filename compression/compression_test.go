package compression_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/go-chfs/chfs/block"
	c "github.com/go-chfs/chfs/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newDeviceWithContent(t *testing.T, totalBlocks, blockSize uint32, fill func([]byte)) *block.Device {
	t.Helper()
	backing := make([]byte, uint64(totalBlocks)*uint64(blockSize))
	if fill != nil {
		fill(backing)
	}
	return block.New(bytesextra.NewReadWriteSeeker(backing), totalBlocks, blockSize)
}

func readAllBlocks(t *testing.T, dev *block.Device) []byte {
	t.Helper()
	out := make([]byte, uint64(dev.TotalBlocks())*uint64(dev.BlockSize()))
	buf := make([]byte, dev.BlockSize())
	for i := uint32(0); i < dev.TotalBlocks(); i++ {
		require.NoError(t, dev.ReadBlock(block.ID(i), buf))
		copy(out[uint64(i)*uint64(dev.BlockSize()):], buf)
	}
	return out
}

func TestRoundTripImageCompressionHomogenous(t *testing.T) {
	dev := newDeviceWithContent(t, 32, 256, func(b []byte) {
		for i := range b {
			b[i] = 0x64
		}
	})

	var compressed bytes.Buffer
	n, err := c.CompressImage(dev, &compressed)
	require.NoError(t, err)
	t.Logf("image size after compression: %d -> %d", compressed.Len(), n)
	assert.EqualValues(t, compressed.Len(), n)

	decompressed, err := c.DecompressImage(bytes.NewReader(compressed.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, dev.TotalBlocks(), decompressed.TotalBlocks())
	assert.Equal(t, dev.BlockSize(), decompressed.BlockSize())
	assert.Equal(t, readAllBlocks(t, dev), readAllBlocks(t, decompressed))
}

func TestRoundTripImageCompressionEmpty(t *testing.T) {
	dev := newDeviceWithContent(t, 4, 64, nil)

	var compressed bytes.Buffer
	_, err := c.CompressImage(dev, &compressed)
	require.NoError(t, err)

	decompressed, err := c.DecompressImage(bytes.NewReader(compressed.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, readAllBlocks(t, dev), readAllBlocks(t, decompressed))
}

func TestRoundTripImageCompressionHeterogenous(t *testing.T) {
	dev := newDeviceWithContent(t, 16, 128, func(b []byte) {
		_, err := rand.Read(b)
		require.NoError(t, err)
	})

	var compressed bytes.Buffer
	_, err := c.CompressImage(dev, &compressed)
	require.NoError(t, err)

	decompressed, err := c.DecompressImage(bytes.NewReader(compressed.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, readAllBlocks(t, dev), readAllBlocks(t, decompressed))
}

func TestDecompressImageRejectsBadMagic(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xff}, 64)
	_, err := c.DecompressImage(bytes.NewReader(garbage))
	assert.Error(t, err)
}
