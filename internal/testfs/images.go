// Package testfs provides helpers for constructing in-memory block devices
// in tests, including loading pre-baked compressed fixture images. Adapted
// from disko's testing/images.go, narrowed to block.Device instead of
// a generic disko driver stream.
package testfs

import (
	"bytes"
	"testing"

	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// LoadDiskImage decompresses a gzip+RLE8 image fixture produced by
// CompressDeviceForFixture and wraps it in an in-memory block.Device. The
// geometry is recovered from the fixture's own header, not supplied by the
// caller.
func LoadDiskImage(t *testing.T, compressedImageBytes []byte) *block.Device {
	t.Helper()
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	dev, err := compression.DecompressImage(bytes.NewReader(compressedImageBytes))
	require.NoError(t, err)
	return dev
}

// NewBlankDevice returns a zero-filled in-memory device, the common starting
// point for tests that format their own filesystem.
func NewBlankDevice(totalBlocks, blockSize uint32) *block.Device {
	backing := make([]byte, uint64(totalBlocks)*uint64(blockSize))
	return block.New(bytesextra.NewReadWriteSeeker(backing), totalBlocks, blockSize)
}

// CompressDeviceForFixture is the inverse helper used to bake a device's
// current contents into a fixture for LoadDiskImage, e.g. from a one-off
// generator script, or from a test that wants to round-trip a populated
// filesystem through the on-disk compressed format.
func CompressDeviceForFixture(dev *block.Device) ([]byte, error) {
	var out bytes.Buffer
	if _, err := compression.CompressImage(dev, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
