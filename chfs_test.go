package chfs_test

import (
	"testing"

	chfs "github.com/go-chfs/chfs"
	"github.com/go-chfs/chfs/directory"
	"github.com/go-chfs/chfs/inode"
	"github.com/go-chfs/chfs/internal/testfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatProducesEmptyRootDirectory(t *testing.T) {
	dev := testfs.NewBlankDevice(512, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	entries, err := directory.ReadDirectory(fs.Engine, inode.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFormatRejectsUndersizedDevice(t *testing.T) {
	dev := testfs.NewBlankDevice(2, 64)
	_, err := chfs.Format(dev, 1024)
	assert.Error(t, err)
}

func TestOpenReconstructsFormattedFilesystem(t *testing.T) {
	dev := testfs.NewBlankDevice(512, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	_, err = directory.Mkfile(fs.Engine, inode.Root, "hello")
	require.NoError(t, err)

	reopened, err := chfs.Open(dev)
	require.NoError(t, err)

	entries, err := directory.ReadDirectory(reopened.Engine, inode.Root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Name)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dev := testfs.NewBlankDevice(8, 64)
	_, err := chfs.Open(dev)
	assert.Error(t, err)
}
