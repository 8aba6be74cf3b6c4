package highpointtest

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"math"
	"slices"
	"testing"
)

// TIFF field types.
const (
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeLong8  = 16
)

// maxLZWBlockSize is the largest block that compress/lzw encodes identically
// to TIFF's LZW variant, which widens codes one code earlier.
const maxLZWBlockSize = 200

// A GeoTIFF describes a GeoTIFF file with a single band. By default it is a
// little endian BigTIFF with SHORT sizes and LONG8 offsets.
type GeoTIFF struct {
	Rows [][]int16

	// Classic writes a classic TIFF with LONG sizes and offsets.
	Classic bool

	BigEndian bool

	// Float writes 32-bit floating point samples instead of 16-bit integers.
	Float bool

	// Unsigned writes unsigned 16-bit samples, so negative samples become
	// values above 32767.
	Unsigned bool

	// Deflate or LZW compresses blocks. LZW blocks are limited to
	// maxLZWBlockSize bytes.
	Deflate bool
	LZW     bool

	// Predictor applies horizontal differencing to 16-bit samples.
	Predictor bool

	// RowsPerStrip sets the strip height. Zero means one strip.
	RowsPerStrip int

	// TileSize, if non-zero, writes square tiles instead of strips.
	TileSize int

	PixelScale [2]float64
	Tiepoint   [2]float64 // Model coordinates of the top left corner.

	// ModelTransformation writes the georeferencing as a
	// ModelTransformationTag instead of a pixel scale and a tiepoint.
	ModelTransformation bool

	PixelIsPoint bool

	// NoGeoreferencing omits the model tags.
	NoGeoreferencing bool

	// SparseBlocks lists blocks that are omitted from the file.
	SparseBlocks []int

	// CorruptByteCounts lists blocks whose byte counts extend far beyond the
	// end of the file.
	CorruptByteCounts []int
}

type tiffEntry struct {
	tag       uint16
	fieldType uint16
	ints      []uint64
	floats    []float64
}

// Bytes returns the encoded GeoTIFF file.
func (g *GeoTIFF) Bytes() []byte {
	byteOrder := g.byteOrder()
	height := len(g.Rows)
	width := 0
	if height > 0 {
		width = len(g.Rows[0])
	}

	sizeType, offsetType := uint16(typeShort), uint16(typeLong8)
	if g.Classic {
		sizeType, offsetType = typeLong, typeLong
	}

	var blocks [][]byte
	var entries []tiffEntry
	if g.TileSize != 0 {
		for tileRow := 0; tileRow < height; tileRow += g.TileSize {
			for tileColumn := 0; tileColumn < width; tileColumn += g.TileSize {
				blocks = append(blocks, g.encodeBlock(tileColumn, tileRow, g.TileSize, g.TileSize))
			}
		}
		entries = append(entries,
			intEntry(322, sizeType, uint64(g.TileSize)),
			intEntry(323, sizeType, uint64(g.TileSize)),
		)
	} else {
		rowsPerStrip := g.RowsPerStrip
		if rowsPerStrip == 0 {
			rowsPerStrip = max(height, 1)
		}
		for stripRow := 0; stripRow < height; stripRow += rowsPerStrip {
			blocks = append(blocks, g.encodeBlock(0, stripRow, width, min(rowsPerStrip, height-stripRow)))
		}
		entries = append(entries, intEntry(278, sizeType, uint64(rowsPerStrip)))
	}

	bitsPerSample, sampleFormat := uint64(16), uint64(2)
	switch {
	case g.Float:
		bitsPerSample, sampleFormat = 32, 3
	case g.Unsigned:
		sampleFormat = 1
	}
	compression := uint64(1)
	switch {
	case g.LZW:
		compression = 5
	case g.Deflate:
		compression = 8
	}
	entries = append(entries,
		intEntry(256, sizeType, uint64(width)),
		intEntry(257, sizeType, uint64(height)),
		intEntry(258, typeShort, bitsPerSample),
		intEntry(259, typeShort, compression),
		intEntry(262, typeShort, 1),
		intEntry(277, typeShort, 1),
		intEntry(284, typeShort, 1),
		intEntry(339, typeShort, sampleFormat),
	)
	if g.Predictor {
		entries = append(entries, intEntry(317, typeShort, 2))
	}
	if !g.NoGeoreferencing {
		rasterType := uint64(1)
		if g.PixelIsPoint {
			rasterType = 2
		}
		if g.ModelTransformation {
			entries = append(entries, doubleEntry(34264,
				g.PixelScale[0], 0, 0, g.Tiepoint[0],
				0, -g.PixelScale[1], 0, g.Tiepoint[1],
				0, 0, 0, 0,
				0, 0, 0, 1,
			))
		} else {
			entries = append(entries,
				doubleEntry(33550, g.PixelScale[0], g.PixelScale[1], 0),
				doubleEntry(33922, 0, 0, 0, g.Tiepoint[0], g.Tiepoint[1], 0),
			)
		}
		entries = append(entries, intEntry(34735, typeShort,
			1, 1, 0, 3,
			1024, 0, 1, 2,
			1025, 0, 1, rasterType,
			2048, 0, 1, 4326,
		))
	}

	offsetsTag, byteCountsTag := uint16(273), uint16(279)
	if g.TileSize != 0 {
		offsetsTag, byteCountsTag = 324, 325
	}
	corruptByteCount := uint64(1 << 62)
	if g.Classic {
		corruptByteCount = math.MaxUint32
	}
	byteCounts := make([]uint64, len(blocks))
	for i, block := range blocks {
		switch {
		case slices.Contains(g.SparseBlocks, i):
		case slices.Contains(g.CorruptByteCounts, i):
			byteCounts[i] = corruptByteCount
		default:
			byteCounts[i] = uint64(len(block))
		}
	}
	// Offsets are filled in once the layout is known.
	entries = append(entries,
		intEntry(offsetsTag, offsetType, make([]uint64, len(blocks))...),
		intEntry(byteCountsTag, offsetType, byteCounts...),
	)
	slices.SortFunc(entries, func(a, b tiffEntry) int {
		return int(a.tag) - int(b.tag)
	})

	// Layout: header, IFD, out of line values, blocks.
	headerSize, entrySize, inlineSize := 16, 20, 8
	ifdSize := 8 + entrySize*len(entries) + 8
	if g.Classic {
		headerSize, entrySize, inlineSize = 8, 12, 4
		ifdSize = 2 + entrySize*len(entries) + 4
	}
	extraSize := 0
	for _, entry := range entries {
		if size := entry.size(); size > inlineSize {
			extraSize += size
		}
	}
	blockOffset := uint64(headerSize + ifdSize + extraSize)
	offsets := make([]uint64, len(blocks))
	for i, block := range blocks {
		if slices.Contains(g.SparseBlocks, i) {
			continue
		}
		offsets[i] = blockOffset
		blockOffset += uint64(len(block))
	}
	for i := range entries {
		if entries[i].tag == offsetsTag {
			entries[i] = intEntry(offsetsTag, offsetType, offsets...)
		}
	}

	b := &bytes.Buffer{}
	writeUint := func(value uint64) {
		if g.Classic {
			_ = binary.Write(b, byteOrder, uint32(value))
		} else {
			_ = binary.Write(b, byteOrder, value)
		}
	}
	if g.BigEndian {
		b.WriteString("MM")
	} else {
		b.WriteString("II")
	}
	if g.Classic {
		_ = binary.Write(b, byteOrder, uint16(42))
		writeUint(uint64(headerSize))
		_ = binary.Write(b, byteOrder, uint16(len(entries)))
	} else {
		_ = binary.Write(b, byteOrder, []uint16{43, 8, 0})
		writeUint(uint64(headerSize))
		writeUint(uint64(len(entries)))
	}
	extra := &bytes.Buffer{}
	extraOffset := uint64(headerSize + ifdSize)
	for _, entry := range entries {
		_ = binary.Write(b, byteOrder, entry.tag)
		_ = binary.Write(b, byteOrder, entry.fieldType)
		writeUint(uint64(entry.count()))
		data := entry.encode(byteOrder)
		if len(data) > inlineSize {
			writeUint(extraOffset + uint64(extra.Len()))
			extra.Write(data)
		} else {
			value := make([]byte, inlineSize)
			copy(value, data)
			b.Write(value)
		}
	}
	writeUint(0)
	b.Write(extra.Bytes())
	for i, block := range blocks {
		if !slices.Contains(g.SparseBlocks, i) {
			b.Write(block)
		}
	}
	return b.Bytes()
}

// WriteFile writes g to a new file in a temporary directory and returns its
// name.
func (g *GeoTIFF) WriteFile(tb testing.TB) string {
	tb.Helper()
	return writeFile(tb, "test.tif", g.Bytes())
}

func (g *GeoTIFF) byteOrder() binary.ByteOrder {
	if g.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// encodeBlock encodes the block of the given size at (x, y). Samples outside
// the image are zero.
func (g *GeoTIFF) encodeBlock(x, y, blockWidth, blockLength int) []byte {
	byteOrder := g.byteOrder()
	b := &bytes.Buffer{}
	for row := y; row < y+blockLength; row++ {
		var previous uint16
		for column := x; column < x+blockWidth; column++ {
			var sample int16
			if row < len(g.Rows) && column < len(g.Rows[row]) {
				sample = g.Rows[row][column]
			}
			switch {
			case g.Float:
				_ = binary.Write(b, byteOrder, math.Float32bits(float32(sample)))
			case g.Predictor:
				_ = binary.Write(b, byteOrder, uint16(sample)-previous)
				previous = uint16(sample)
			default:
				_ = binary.Write(b, byteOrder, uint16(sample))
			}
		}
	}

	compressed := &bytes.Buffer{}
	switch {
	case g.LZW:
		if b.Len() > maxLZWBlockSize {
			panic("LZW block too large")
		}
		w := lzw.NewWriter(compressed, lzw.MSB, 8)
		_, _ = w.Write(b.Bytes())
		_ = w.Close()
	case g.Deflate:
		w := zlib.NewWriter(compressed)
		_, _ = w.Write(b.Bytes())
		_ = w.Close()
	default:
		return b.Bytes()
	}
	return compressed.Bytes()
}

func intEntry(tag, fieldType uint16, values ...uint64) tiffEntry {
	return tiffEntry{tag: tag, fieldType: fieldType, ints: values}
}

func doubleEntry(tag uint16, values ...float64) tiffEntry {
	return tiffEntry{tag: tag, fieldType: typeDouble, floats: values}
}

func (e tiffEntry) count() int {
	if e.fieldType == typeDouble {
		return len(e.floats)
	}
	return len(e.ints)
}

func (e tiffEntry) size() int {
	switch e.fieldType {
	case typeShort:
		return 2 * e.count()
	case typeLong:
		return 4 * e.count()
	default:
		return 8 * e.count()
	}
}

func (e tiffEntry) encode(byteOrder binary.ByteOrder) []byte {
	data := make([]byte, e.size())
	switch e.fieldType {
	case typeShort:
		for i, value := range e.ints {
			byteOrder.PutUint16(data[2*i:], uint16(value))
		}
	case typeLong:
		for i, value := range e.ints {
			byteOrder.PutUint32(data[4*i:], uint32(value))
		}
	case typeLong8:
		for i, value := range e.ints {
			byteOrder.PutUint64(data[8*i:], value)
		}
	case typeDouble:
		for i, value := range e.floats {
			byteOrder.PutUint64(data[8*i:], math.Float64bits(value))
		}
	}
	return data
}
