// Command chfs is the daemon entry point: a single executable taking a
// mountpoint argument and exposing format/mount/fsck/image subcommands.
// Grounded on disko's cmd/main.go urfave/cli/v2 App structure, with
// the mount subcommand's FUSE wiring grounded on
// distr1-distri/internal/fuse/fuse.go's fuse.Mount/fuseutil.NewFileSystemServer
// usage.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	chfs "github.com/go-chfs/chfs"
	"github.com/go-chfs/chfs/block"
	"github.com/go-chfs/chfs/compression"
	"github.com/go-chfs/chfs/disks"
	"github.com/go-chfs/chfs/fsck"
	"github.com/go-chfs/chfs/mount"
)

func main() {
	app := cli.App{
		Name:  "chfs",
		Usage: "Format, mount, and check chfs disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Initialize a fresh chfs image file",
				ArgsUsage: "IMAGE_PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Usage: "named geometry preset (overrides blocks/block-size/inodes); see `chfs format --help`"},
					&cli.Uint64Flag{Name: "blocks", Value: 65536, Usage: "total blocks in the image"},
					&cli.Uint64Flag{Name: "block-size", Value: 4096, Usage: "bytes per block"},
					&cli.Uint64Flag{Name: "inodes", Value: 4096, Usage: "maximum inode count"},
				},
				Action: formatImage,
			},
			{
				Name:      "mount",
				Usage:     "Mount a chfs image at a mountpoint",
				ArgsUsage: "IMAGE_PATH MOUNTPOINT",
				Action:    mountImage,
			},
			{
				Name:      "fsck",
				Usage:     "Check a chfs image for consistency",
				ArgsUsage: "IMAGE_PATH",
				Action:    fsckImage,
			},
			{
				Name:  "image",
				Usage: "Compress or decompress a chfs image file",
				Subcommands: []*cli.Command{
					{
						Name:      "compress",
						ArgsUsage: "IMAGE_PATH OUT_PATH",
						Action:    compressImage,
					},
					{
						Name:      "decompress",
						ArgsUsage: "IMAGE_PATH OUT_PATH",
						Action:    decompressImage,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// raiseFileDescriptorLimit bumps RLIMIT_NOFILE towards its hard ceiling, the
// way a FUSE daemon with many concurrently open files wants to. Grounded on
// GoogleCloudPlatform-gcsfuse/fs/fs.go's ChooseTempDirLimitNumFiles, which
// queries and adjusts the same limit before serving.
func raiseFileDescriptorLimit() {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Printf("warning: failed to query RLIMIT_NOFILE: %v", err)
		return
	}
	if rlimit.Cur >= rlimit.Max {
		return
	}
	rlimit.Cur = rlimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Printf("warning: failed to raise RLIMIT_NOFILE to %d: %v", rlimit.Max, err)
	}
}

func formatImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: chfs format IMAGE_PATH")
	}
	path := c.Args().Get(0)
	totalBlocks := uint32(c.Uint64("blocks"))
	blockSize := uint32(c.Uint64("block-size"))
	maxInodes := uint32(c.Uint64("inodes"))

	if slug := c.String("preset"); slug != "" {
		preset, err := disks.Get(slug)
		if err != nil {
			return err
		}
		totalBlocks = preset.TotalBlocks
		blockSize = preset.BlockSize
		maxInodes = preset.MaxInodes
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Truncate(int64(totalBlocks) * int64(blockSize)); err != nil {
		return err
	}

	dev := block.New(f, totalBlocks, blockSize)
	if _, err := chfs.Format(dev, maxInodes); err != nil {
		return err
	}
	fmt.Printf("formatted %s: %d blocks of %d bytes, %d inodes\n", path, totalBlocks, blockSize, maxInodes)
	return nil
}

// mountImage mounts a chfs image. The daemon refuses to run as super-user
// and always sets the mount library's -d debug flag.
func mountImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: chfs mount IMAGE_PATH MOUNTPOINT")
	}
	if os.Geteuid() == 0 {
		return fmt.Errorf("chfs mount: refusing to run as root")
	}
	raiseFileDescriptorLimit()

	imagePath := c.Args().Get(0)
	mountpoint := c.Args().Get(1)

	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	layout, err := readLayoutForSize(f, info.Size())
	if err != nil {
		return err
	}

	dev := block.New(f, layout.TotalBlocks, layout.BlockSize)
	fs, err := chfs.Open(dev)
	if err != nil {
		return err
	}

	server := fuseutil.NewFileSystemServer(mount.New(fs))
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:      "chfs",
		DebugLogger: log.New(os.Stderr, "[chfs] ", log.LstdFlags),
	})
	if err != nil {
		return fmt.Errorf("fuse.Mount: %w", err)
	}

	return mfs.Join(context.Background())
}

// readLayoutForSize reads the block count and block size from the head of
// the image's superblock (byte offset 0), so the block.Device handed to
// chfs.Open has the image's own geometry. The magic and the rest of the
// layout are checked and decoded by chfs.Open.
func readLayoutForSize(f *os.File, size int64) (chfs.Layout, error) {
	var head [12]byte
	if _, err := f.ReadAt(head[:], 0); err != nil {
		return chfs.Layout{}, fmt.Errorf("reading superblock: %w", err)
	}
	totalBlocks := binary.LittleEndian.Uint32(head[4:8])
	blockSize := binary.LittleEndian.Uint32(head[8:12])
	if blockSize < 28 || int64(totalBlocks)*int64(blockSize) > size {
		return chfs.Layout{}, fmt.Errorf("not a chfs image: superblock geometry does not fit a %d-byte file", size)
	}
	return chfs.Layout{TotalBlocks: totalBlocks, BlockSize: blockSize}, nil
}

func fsckImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: chfs fsck IMAGE_PATH")
	}
	path := c.Args().Get(0)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	layout, err := readLayoutForSize(f, info.Size())
	if err != nil {
		return err
	}
	dev := block.New(f, layout.TotalBlocks, layout.BlockSize)
	fs, err := chfs.Open(dev)
	if err != nil {
		return err
	}

	report := fsck.Check(fs)
	if report.Err() != nil {
		fmt.Println(report.Err())
		return fmt.Errorf("fsck found %d violation(s)", report.Len())
	}
	fmt.Println("chfs image is consistent")
	return nil
}

func compressImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: chfs image compress IMAGE_PATH OUT_PATH")
	}
	imagePath := c.Args().Get(0)

	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	bootstrapLayout, err := readLayoutForSize(f, info.Size())
	if err != nil {
		return err
	}
	fs, err := chfs.Open(block.New(f, bootstrapLayout.TotalBlocks, bootstrapLayout.BlockSize))
	if err != nil {
		return err
	}

	out, err := os.Create(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := compression.CompressImage(fs.Device, out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d compressed bytes\n", n)
	return nil
}

func decompressImage(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: chfs image decompress IMAGE_PATH OUT_PATH")
	}
	in, err := os.Open(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer in.Close()

	dev, err := compression.DecompressImage(in)
	if err != nil {
		return err
	}

	out, err := os.Create(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.Truncate(int64(dev.TotalBlocks()) * int64(dev.BlockSize())); err != nil {
		return err
	}
	outDev := block.New(out, dev.TotalBlocks(), dev.BlockSize())

	buf := make([]byte, dev.BlockSize())
	for i := uint32(0); i < dev.TotalBlocks(); i++ {
		if err := dev.ReadBlock(block.ID(i), buf); err != nil {
			return err
		}
		if err := outDev.WriteBlock(block.ID(i), buf); err != nil {
			return err
		}
	}
	fmt.Printf("wrote %d decompressed bytes\n", int64(dev.TotalBlocks())*int64(dev.BlockSize()))
	return nil
}
