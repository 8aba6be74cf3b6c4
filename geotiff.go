package highpoint

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

// TIFF compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

const (
	predictorNone       = 1
	predictorHorizontal = 2
)

const (
	sampleFormatUint   = 1
	sampleFormatInt    = 2
	sampleFormatIEEEFP = 3
)

const planarConfigurationChunky = 1

var (
	errBlockOutOfRange = errors.New("block out of range")
	errShortRead       = errors.New("short read")
)

// A GeoTIFFDataset is an open single band GeoTIFF file. Strips and tiles are
// both treated as blocks.
type GeoTIFFDataset struct {
	file              rasterFile
	fileSize          uint64
	byteOrder         binary.ByteOrder
	imageWidth        int
	imageLength       int
	tiled             bool
	blockWidth        int
	blockLength       int
	blocksAcross      int
	blocksDown        int
	blockOffsets      []uint64
	blockByteCounts   []uint64
	bytesPerSample    int
	sampleFormat      int
	compression       int
	predictor         int
	blockSamplesCache *otter.Cache[TileCoord, []int16]
	geoTransform      GeoTransform
	hasGeoTransform   bool
	geoKeys           *GeoKeys
}

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag    []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
}

func openGeoTIFF(ctx context.Context, name string, o *openOptions) (Dataset, error) {
	file, err := o.openFile(name)
	if err != nil {
		return nil, err
	}
	d, err := NewGeoTIFFDataset(file, o.blockCacheSize)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if d.geoKeys != nil {
		o.logger.Debug("geokeys",
			"name", name,
			"epsg", d.geoKeys.EPSG(),
			"rasterType", d.geoKeys.RasterType(),
			"citation", d.geoKeys.ASCIIParams[GeoKeyGTCitation],
		)
	}
	return d, nil
}

// NewGeoTIFFDataset returns a new GeoTIFFDataset reading from file. It
// takes ownership of file on success. Only the first IFD is used.
func NewGeoTIFFDataset(file rasterFile, blockCacheSize int) (*GeoTIFFDataset, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, err
	}
	d := &GeoTIFFDataset{
		file:     file,
		fileSize: uint64(max(fileInfo.Size(), 0)),
	}

	byteOrderMark := make([]byte, 2)
	if _, err := file.ReadAt(byteOrderMark, 0); err != nil {
		return nil, err
	}
	switch string(byteOrderMark) {
	case "II":
		d.byteOrder = binary.LittleEndian
	case "MM":
		d.byteOrder = binary.BigEndian
	default:
		return nil, errors.ErrUnsupported
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	tiffTIFF, err := tiff.Parse(file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, errors.New("no IFDs")
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	d.compression = int(defaultUint16(ifd.Compression, compressionNone))
	d.predictor = int(defaultUint16(ifd.Predictor, predictorNone))
	d.sampleFormat = int(defaultUint16(ifd.SampleFormat, sampleFormatUint))
	samplesPerPixel := defaultUint16(ifd.SamplesPerPixel, 1)
	planarConfiguration := defaultUint16(ifd.PlanarConfiguration, planarConfigurationChunky)
	switch {
	case samplesPerPixel != 1 || planarConfiguration != planarConfigurationChunky:
		return nil, fmt.Errorf("%d samples per pixel: %w", samplesPerPixel, errors.ErrUnsupported)
	case ifd.BitsPerSample == 16 && (d.sampleFormat == sampleFormatUint || d.sampleFormat == sampleFormatInt):
	case ifd.BitsPerSample == 32 && d.sampleFormat == sampleFormatIEEEFP:
	default:
		return nil, fmt.Errorf("%d bit sample format %d: %w", ifd.BitsPerSample, d.sampleFormat, errors.ErrUnsupported)
	}
	switch d.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("compression %d: %w", d.compression, errors.ErrUnsupported)
	}
	switch {
	case d.predictor == predictorNone:
	case d.predictor == predictorHorizontal && ifd.BitsPerSample == 16:
	default:
		return nil, fmt.Errorf("predictor %d: %w", d.predictor, errors.ErrUnsupported)
	}
	d.bytesPerSample = int(ifd.BitsPerSample) / 8

	d.imageWidth = int(ifd.ImageWidth)
	d.imageLength = int(ifd.ImageLength)
	if ifd.TileWidth != 0 && ifd.TileLength != 0 {
		d.tiled = true
		d.blockWidth = int(ifd.TileWidth)
		d.blockLength = int(ifd.TileLength)
		d.blockOffsets = ifd.TileOffsets
		d.blockByteCounts = ifd.TileByteCounts
	} else {
		d.blockWidth = d.imageWidth
		d.blockLength = int(ifd.RowsPerStrip)
		if d.blockLength == 0 || d.blockLength > d.imageLength {
			d.blockLength = d.imageLength
		}
		d.blockOffsets = ifd.StripOffsets
		d.blockByteCounts = ifd.StripByteCounts
	}
	if d.blockWidth > 0 && d.blockLength > 0 {
		d.blocksAcross = (d.imageWidth + d.blockWidth - 1) / d.blockWidth
		d.blocksDown = (d.imageLength + d.blockLength - 1) / d.blockLength
	}
	blocksPerImage := d.blocksAcross * d.blocksDown
	if len(d.blockOffsets) != blocksPerImage || len(d.blockByteCounts) != blocksPerImage {
		return nil, errors.New("incorrect number of block byte counts or offsets")
	}

	blockByteCountUncompressed := max(d.blockWidth*d.blockLength*d.bytesPerSample, 1)
	blockCacheCount := max(blockCacheSize/blockByteCountUncompressed, 1)
	d.blockSamplesCache, err = otter.New(&otter.Options[TileCoord, []int16]{
		MaximumSize: blockCacheCount,
	})
	if err != nil {
		return nil, err
	}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		// Unparseable GeoKeys are ignored, as GDAL does.
		d.geoKeys, _ = ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
	}
	d.geoTransform, d.hasGeoTransform = geoTIFFGeoTransform(&ifd, d.geoKeys)

	return d, nil
}

// geoTIFFGeoTransform returns the geotransform described by ifd's model
// tags, if any.
func geoTIFFGeoTransform(ifd *geoTIFFIFD, geoKeys *GeoKeys) (GeoTransform, bool) {
	var t GeoTransform
	switch m, scale, tiepoint := ifd.ModelTransformationTag, ifd.ModelPixelScaleTag, ifd.ModelTiepointTag; {
	case len(m) == 16:
		t = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	case len(scale) >= 2 && len(tiepoint) >= 6:
		t = GeoTransform{
			tiepoint[3] - tiepoint[0]*scale[0],
			scale[0],
			0,
			tiepoint[4] + tiepoint[1]*scale[1],
			0,
			-scale[1],
		}
	default:
		return GeoTransform{}, false
	}
	if geoKeys != nil && geoKeys.RasterType() == RasterPixelIsPoint {
		t[0] -= 0.5*t[1] + 0.5*t[2]
		t[3] -= 0.5*t[4] + 0.5*t[5]
	}
	return t, true
}

func (d *GeoTIFFDataset) Close() error {
	return d.file.Close()
}

// RasterBand returns d's only band.
func (d *GeoTIFFDataset) RasterBand(index int) (Band, error) {
	if index != 1 {
		return nil, fmt.Errorf("%d: %w", index, ErrNoBand)
	}
	return d, nil
}

func (d *GeoTIFFDataset) GeoTransform() (GeoTransform, error) {
	if !d.hasGeoTransform {
		return GeoTransform{}, ErrNoGeoTransform
	}
	return d.geoTransform, nil
}

// GeoKeys returns d's GeoKeys, or nil if it has none.
func (d *GeoTIFFDataset) GeoKeys() *GeoKeys {
	return d.geoKeys
}

func (d *GeoTIFFDataset) Size() (int, int) {
	return d.imageWidth, d.imageLength
}

// ReadRow reads row into buf.
func (d *GeoTIFFDataset) ReadRow(ctx context.Context, row int, buf []int16) error {
	if row < 0 || d.imageLength <= row {
		return fmt.Errorf("row %d: out of range", row)
	}
	if len(buf) != d.imageWidth {
		return fmt.Errorf("buffer length %d, expected %d", len(buf), d.imageWidth)
	}
	blockRow := row / d.blockLength
	rowInBlock := row % d.blockLength
	for blockColumn := range d.blocksAcross {
		blockSamples, err := d.getBlockSamplesCached(ctx, TileCoord{C: blockColumn, R: blockRow})
		if err != nil {
			return err
		}
		x := blockColumn * d.blockWidth
		n := min(d.blockWidth, d.imageWidth-x)
		copy(buf[x:x+n], blockSamples[rowInBlock*d.blockWidth:])
	}
	return nil
}

// getBlockSamplesCached returns the block at blockCoord using d's cache.
func (d *GeoTIFFDataset) getBlockSamplesCached(ctx context.Context, blockCoord TileCoord) ([]int16, error) {
	loaded := false
	blockSamples, err := d.blockSamplesCache.Get(ctx, blockCoord, otter.LoaderFunc[TileCoord, []int16](func(ctx context.Context, blockCoord TileCoord) ([]int16, error) {
		loaded = true
		return d.getBlockSamples(ctx, blockCoord)
	}))
	if loaded {
		blockCacheMisses.WithLabelValues(DriverGeoTIFF).Inc()
	} else {
		blockCacheHits.WithLabelValues(DriverGeoTIFF).Inc()
	}
	return blockSamples, err
}

// getBlockSamples reads, decompresses, and decodes the block at blockCoord.
func (d *GeoTIFFDataset) getBlockSamples(ctx context.Context, blockCoord TileCoord) ([]int16, error) {
	rows := d.blockLength
	if !d.tiled {
		// The last strip may be short.
		rows = min(d.blockLength, d.imageLength-blockCoord.R*d.blockLength)
	}
	sampleCount := d.blockWidth * rows

	blockIndex := blockCoord.C + d.blocksAcross*blockCoord.R
	blockByteCount := d.blockByteCounts[blockIndex]
	blockOffset := d.blockOffsets[blockIndex]
	if blockByteCount == 0 {
		// Sparse files omit empty blocks.
		return make([]int16, d.blockWidth*d.blockLength), nil
	}
	if blockOffset > d.fileSize || blockByteCount > d.fileSize-blockOffset {
		return nil, fmt.Errorf("block %d: offset %d byte count %d: %w", blockIndex, blockOffset, blockByteCount, errBlockOutOfRange)
	}
	size := sampleCount * d.bytesPerSample
	switch {
	case d.compression == compressionNone:
		blockByteCount = min(blockByteCount, uint64(size))
	case blockByteCount > uint64(2*size+1024):
		// Neither LZW nor deflate expands data this much.
		return nil, fmt.Errorf("block %d: byte count %d: %w", blockIndex, blockByteCount, errBlockOutOfRange)
	}

	compressedData := make([]byte, blockByteCount)
	switch n, err := d.file.ReadAt(compressedData, int64(blockOffset)); {
	case n == len(compressedData):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}

	blockData, err := d.decompressBlockData(compressedData, size)
	if err != nil {
		return nil, err
	}

	blockSamples := make([]int16, d.blockWidth*d.blockLength)
	d.decodeBlockData(blockData, blockSamples[:sampleCount])
	return blockSamples, nil
}

// decompressBlockData decompresses compressedData into size bytes.
func (d *GeoTIFFDataset) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch d.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	default:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// decodeBlockData decodes blockData into blockSamples, converting to signed
// 16-bit integers with rounding and clamping.
func (d *GeoTIFFDataset) decodeBlockData(blockData []byte, blockSamples []int16) {
	switch d.sampleFormat {
	case sampleFormatInt, sampleFormatUint:
		raw := make([]uint16, len(blockSamples))
		for i := range raw {
			raw[i] = d.byteOrder.Uint16(blockData[2*i:])
		}
		if d.predictor == predictorHorizontal {
			for rowStart := 0; rowStart < len(raw); rowStart += d.blockWidth {
				for i := rowStart + 1; i < rowStart+d.blockWidth; i++ {
					raw[i] += raw[i-1]
				}
			}
		}
		for i, u := range raw {
			if d.sampleFormat == sampleFormatUint && u > math.MaxInt16 {
				blockSamples[i] = math.MaxInt16
			} else {
				blockSamples[i] = int16(u)
			}
		}
	case sampleFormatIEEEFP:
		for i := range blockSamples {
			f := math.Float32frombits(d.byteOrder.Uint32(blockData[4*i:]))
			blockSamples[i] = clampInt16(float64(f))
		}
	}
}

// clampInt16 rounds f to the nearest int16, saturating at the limits. NaN
// becomes zero.
func clampInt16(f float64) int16 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt16:
		return math.MinInt16
	case f >= math.MaxInt16:
		return math.MaxInt16
	default:
		return int16(math.Round(f))
	}
}

func defaultUint16(value, defaultValue uint16) uint16 {
	if value == 0 {
		return defaultValue
	}
	return value
}
