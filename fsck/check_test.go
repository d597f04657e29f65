package fsck_test

import (
	"testing"

	chfs "github.com/go-chfs/chfs"
	"github.com/go-chfs/chfs/directory"
	"github.com/go-chfs/chfs/fsck"
	"github.com/go-chfs/chfs/inode"
	"github.com/go-chfs/chfs/internal/testfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPassesOnFreshlyFormattedImage(t *testing.T) {
	dev := testfs.NewBlankDevice(512, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	report := fsck.Check(fs)
	assert.NoError(t, report.Err())
	assert.Zero(t, report.Len())
}

func TestCheckPassesAfterPopulatingFilesAndDirectories(t *testing.T) {
	dev := testfs.NewBlankDevice(1024, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	subdirID, err := directory.Mkdir(fs.Engine, inode.Root, "sub")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		fileID, err := directory.Mkfile(fs.Engine, subdirID, "file-"+string(rune('a'+i)))
		require.NoError(t, err)
		require.NoError(t, fs.Engine.WriteFile(fileID, []byte("some content")))
	}

	report := fsck.Check(fs)
	assert.NoError(t, report.Err())
}

func TestCheckDetectsDanglingDirectoryEntry(t *testing.T) {
	dev := testfs.NewBlankDevice(512, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	fileID, err := directory.Mkfile(fs.Engine, inode.Root, "ghost")
	require.NoError(t, err)

	// Release the inode slot directly, bypassing unlink, so the directory
	// entry is left pointing at a now-nonexistent inode.
	require.NoError(t, fs.Engine.RemoveFile(fileID))
	entries, err := directory.ReadDirectory(fs.Engine, inode.Root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "unlink is the normal path; this test reaches the corrupted state by removing the inode without updating the directory body")

	report := fsck.Check(fs)
	assert.Error(t, report.Err())
	assert.Greater(t, report.Len(), 0)
}

// A compressed image round-trips through CompressDeviceForFixture and
// LoadDiskImage, then checks clean and serves the same content it was
// populated with, the same way a checked-in fixture would be loaded and
// verified in any other test.
func TestCheckPassesOnCompressedFixtureRoundTrip(t *testing.T) {
	dev := testfs.NewBlankDevice(512, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	fileID, err := directory.Mkfile(fs.Engine, inode.Root, "fixture.txt")
	require.NoError(t, err)
	require.NoError(t, fs.Engine.WriteFile(fileID, []byte("a fixture baked into a compressed image")))

	fixture, err := testfs.CompressDeviceForFixture(fs.Device)
	require.NoError(t, err)

	reloadedDev := testfs.LoadDiskImage(t, fixture)
	reloadedFS, err := chfs.Open(reloadedDev)
	require.NoError(t, err)

	report := fsck.Check(reloadedFS)
	assert.NoError(t, report.Err())

	reloadedID, err := directory.Lookup(reloadedFS.Engine, inode.Root, "fixture.txt")
	require.NoError(t, err)
	content, err := reloadedFS.Engine.ReadFile(reloadedID)
	require.NoError(t, err)
	assert.Equal(t, "a fixture baked into a compressed image", string(content))
}

func TestCheckDetectsSharedBlockBetweenInodes(t *testing.T) {
	dev := testfs.NewBlankDevice(512, 256)
	fs, err := chfs.Format(dev, 64)
	require.NoError(t, err)

	aID, err := directory.Mkfile(fs.Engine, inode.Root, "a")
	require.NoError(t, err)
	bID, err := directory.Mkfile(fs.Engine, inode.Root, "b")
	require.NoError(t, err)

	require.NoError(t, fs.Engine.WriteFile(aID, []byte("hello")))

	rawA, err := fs.Engine.ReadRawInode(aID)
	require.NoError(t, err)
	sharedBlock := rawA.GetBlockDirect(0)

	rawB, err := fs.Engine.ReadRawInode(bID)
	require.NoError(t, err)
	rawB.Attr.Size = 5
	rawB.SetBlockDirect(0, sharedBlock)
	require.NoError(t, fs.Engine.WriteRawInode(bID, rawB))

	report := fsck.Check(fs)
	assert.Error(t, report.Err())
}
