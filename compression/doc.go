// Package compression compresses and decompresses chfs disk images.
//
// chfs blocks are fixed-size. The emptier an image is, the more blocks
// consisting of entirely null bytes it holds, and even a modest image (a few
// dozen MiB) is mostly dead space once formatted. CompressImage run-length
// encodes the raw image first, then gzips the result, and frames the output
// with a small header carrying the image's geometry so DecompressImage can
// rebuild a block.Device without being told its shape out of band.
//
// There are a variety of run-length encodings; this package uses the one
// from the Microsoft BMP file format, RLE8. A brief explanation: if a byte B
// occurs N times where N >= 2, B is written twice, followed by a third
// (unsigned) byte indicating how many additional times B occurred. For
// example:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// This scheme lets us represent runs of up to 257 bytes with three bytes. For
// runs longer than 257 bytes, they are treated as separate runs. For example,
// a run of 300 "X" is represented as `XX 255 XX 41`. Using a byte as its own
// escape sequence means that occurrences of the same byte exactly twice are
// stored as three bytes: the two bytes followed by a null byte indicating no
// further repetition.
package compression
