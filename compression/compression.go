package compression

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-chfs/chfs/block"
	"github.com/xaionaro-go/bytesextra"
)

// imageMagic tags a compressed chfs image stream, distinct from the
// in-image superblock magic so the two can never be confused.
const imageMagic = 0x7a68666e // "zhfn"

const headerFormatVersion = 1

// header is the uncompressed prefix written before the gzip+RLE8 payload: it
// carries exactly the geometry block.New needs to reconstruct a device,
// so DecompressImage never requires the caller to already know the shape of
// the image it's about to read.
type header struct {
	Magic       uint32
	Version     uint8
	BlockSize   uint32
	TotalBlocks uint32
}

const headerSize = 4 + 1 + 4 + 4

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	binary.LittleEndian.PutUint32(buf[5:9], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[9:13], h.TotalBlocks)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != headerSize {
		return header{}, fmt.Errorf("short image header: got %d bytes, want %d", len(buf), headerSize)
	}
	h := header{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     buf[4],
		BlockSize:   binary.LittleEndian.Uint32(buf[5:9]),
		TotalBlocks: binary.LittleEndian.Uint32(buf[9:13]),
	}
	if h.Magic != imageMagic {
		return header{}, fmt.Errorf("not a compressed chfs image: bad magic %#x", h.Magic)
	}
	if h.Version != headerFormatVersion {
		return header{}, fmt.Errorf("unsupported compressed image format version %d", h.Version)
	}
	return h, nil
}

// deviceReader presents the whole raw content of a block.Device as a
// sequential stream, block by block, so the RLE8/gzip pipeline can run over
// a device exactly as it would over any other byte stream.
type deviceReader struct {
	dev    *block.Device
	buf    []byte
	pos    int
	nextID block.ID
}

func newDeviceReader(dev *block.Device) *deviceReader {
	r := &deviceReader{dev: dev, buf: make([]byte, dev.BlockSize())}
	r.pos = len(r.buf)
	return r
}

func (r *deviceReader) fill() error {
	if uint32(r.nextID) >= r.dev.TotalBlocks() {
		return io.EOF
	}
	if err := r.dev.ReadBlock(r.nextID, r.buf); err != nil {
		return err
	}
	r.nextID++
	r.pos = 0
	return nil
}

// Read implements io.Reader, refilling from the device one block at a time
// as the caller drains each block's bytes.
func (r *deviceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// countingWriter is a wrapper around [io.Writer] streams that keeps track of
// how many bytes are successfully written to the stream.
type countingWriter struct {
	// Writer is the [io.Writer] that this intercepts the writes to.
	Writer io.Writer

	// BytesWritten is the total number of bytes successfully written to [Writer].
	BytesWritten int64
}

// Write writes bytes to the underlying stream.
func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.Writer.Write(b)
	if err == nil {
		w.BytesWritten += int64(n)
	}
	return n, err
}

// CompressImage serializes dev's entire block range through RLE8 then gzip,
// prefixed with a small uncompressed header carrying dev's geometry.
//
// The returned int64 gives the number of bytes written to the output stream,
// including the header. If an error occurred, this value is undefined and
// should not be used.
func CompressImage(dev *block.Device, output io.Writer) (int64, error) {
	writer := countingWriter{Writer: output}

	hdr := header{Magic: imageMagic, Version: headerFormatVersion, BlockSize: dev.BlockSize(), TotalBlocks: dev.TotalBlocks()}
	if _, err := writer.Write(hdr.encode()); err != nil {
		return writer.BytesWritten, fmt.Errorf("failed to write image header: %w", err)
	}

	// The disk images aren't that huge by modern standards (mostly under
	// 32MiB), so we won't notice much of a speed difference between the
	// default and highest gzip compression levels.
	gzWriter, err := gzip.NewWriterLevel(&writer, gzip.BestCompression)
	if err != nil {
		return writer.BytesWritten, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	_, err = CompressRLE8(newDeviceReader(dev), gzWriter)
	closeErr := gzWriter.Close()
	if err != nil {
		err = fmt.Errorf("RLE8 compression error: %w", err)
	} else if closeErr != nil {
		err = fmt.Errorf("gzip compression error: %w", closeErr)
	}
	return writer.BytesWritten, err
}

// DecompressImage reads a stream produced by CompressImage and reconstructs
// an in-memory block.Device with the original geometry and content.
func DecompressImage(input io.Reader) (*block.Device, error) {
	buffered := bufio.NewReader(input)
	rawHeader := make([]byte, headerSize)
	if _, err := io.ReadFull(buffered, rawHeader); err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	hdr, err := decodeHeader(rawHeader)
	if err != nil {
		return nil, err
	}

	gzReader, err := gzip.NewReader(buffered)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	imageSize := uint64(hdr.BlockSize) * uint64(hdr.TotalBlocks)
	backing := make([]byte, imageSize)
	stream := bytesextra.NewReadWriteSeeker(backing)
	if _, err := DecompressRLE8(gzReader, stream); err != nil {
		return nil, fmt.Errorf("RLE8 decompression error: %w", err)
	}
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind decompressed image: %w", err)
	}

	return block.New(stream, hdr.TotalBlocks, hdr.BlockSize), nil
}
