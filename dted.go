package highpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	dtedRecordLength    = 80 // UHL and tape label records.
	dtedDSILength       = 648
	dtedACCLength       = 2700
	dtedRecordSentinel  = 0xaa
	dtedColumnsPerBlock = 64
)

var (
	errBadChecksum = errors.New("bad checksum")
	errBadSentinel = errors.New("bad record sentinel")
	errBadUHL      = errors.New("bad user header label")
)

// A DTEDDataset is an open DTED file. Data records are stored one per
// longitude line, south to north. Rows are presented north up, as GDAL does.
// Record checksums are only verified if requested with [WithVerifyChecksum],
// as GDAL does by default.
type DTEDDataset struct {
	file           rasterFile
	verifyChecksum bool
	lonOrigin      float64
	latOrigin      float64
	lonInterval    float64
	latInterval    float64
	width          int
	height         int
	dataOffset     int64
	recordSize     int
	blockCache     *lru.Cache[int, *dtedBlock]
	blocksAcross   int
}

// A dtedBlock is a group of consecutive decoded longitude lines.
type dtedBlock struct {
	columns [][]int16 // North up.
	err     error
}

func openDTED(ctx context.Context, name string, o *openOptions) (Dataset, error) {
	file, err := o.openFile(name)
	if err != nil {
		return nil, err
	}
	d, err := newDTEDDataset(file, o)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// newDTEDDataset returns a new DTEDDataset reading from file. It takes
// ownership of file on success.
func newDTEDDataset(file rasterFile, o *openOptions) (*DTEDDataset, error) {
	d := &DTEDDataset{
		file:           file,
		verifyChecksum: o.verifyChecksum,
	}

	// Skip any tape label records before the UHL.
	record := make([]byte, dtedRecordLength)
	for offset := int64(0); ; offset += dtedRecordLength {
		if err := d.readFull(record, offset); err != nil {
			return nil, err
		}
		if bytes.HasPrefix(record, []byte("VOL")) || bytes.HasPrefix(record, []byte("HDR")) {
			continue
		}
		if !bytes.HasPrefix(record, []byte("UHL")) {
			return nil, errBadUHL
		}
		d.dataOffset = offset + dtedRecordLength + dtedDSILength + dtedACCLength
		break
	}

	if err := d.parseUHL(record); err != nil {
		return nil, err
	}
	d.recordSize = 8 + 2*d.height + 4

	d.blocksAcross = (d.width + dtedColumnsPerBlock - 1) / dtedColumnsPerBlock
	blockSizeBytes := 2 * dtedColumnsPerBlock * max(d.height, 1)
	var err error
	d.blockCache, err = lru.New[int, *dtedBlock](max(o.blockCacheSize/blockSizeBytes, 1))
	if err != nil {
		return nil, err
	}

	return d, nil
}

// parseUHL parses the user header label.
func (d *DTEDDataset) parseUHL(uhl []byte) error {
	var err error
	if d.lonOrigin, err = parseDTEDAngle(uhl[4:12]); err != nil {
		return err
	}
	if d.latOrigin, err = parseDTEDAngle(uhl[12:20]); err != nil {
		return err
	}
	lonInterval, err := parseDTEDInt(uhl[20:24])
	if err != nil {
		return err
	}
	latInterval, err := parseDTEDInt(uhl[24:28])
	if err != nil {
		return err
	}
	if d.width, err = parseDTEDInt(uhl[47:51]); err != nil {
		return err
	}
	if d.height, err = parseDTEDInt(uhl[51:55]); err != nil {
		return err
	}
	if lonInterval <= 0 || latInterval <= 0 || d.width < 0 || d.height < 0 {
		return errBadUHL
	}
	// Intervals are in tenths of arc seconds.
	d.lonInterval = float64(lonInterval) / 36000
	d.latInterval = float64(latInterval) / 36000
	return nil
}

func (d *DTEDDataset) Close() error {
	return d.file.Close()
}

// RasterBand returns d's only band.
func (d *DTEDDataset) RasterBand(index int) (Band, error) {
	if index != 1 {
		return nil, fmt.Errorf("%d: %w", index, ErrNoBand)
	}
	return d, nil
}

// GeoTransform returns d's geotransform. DTED samples are points, so the
// origin is offset by half a pixel.
func (d *DTEDDataset) GeoTransform() (GeoTransform, error) {
	return GeoTransform{
		d.lonOrigin - 0.5*d.lonInterval,
		d.lonInterval,
		0,
		d.latOrigin - 0.5*d.latInterval + float64(d.height)*d.latInterval,
		0,
		-d.latInterval,
	}, nil
}

func (d *DTEDDataset) Size() (int, int) {
	return d.width, d.height
}

// ReadRow reads row into buf.
func (d *DTEDDataset) ReadRow(ctx context.Context, row int, buf []int16) error {
	if row < 0 || d.height <= row {
		return fmt.Errorf("row %d: out of range", row)
	}
	if len(buf) != d.width {
		return fmt.Errorf("buffer length %d, expected %d", len(buf), d.width)
	}
	for blockIndex := range d.blocksAcross {
		block := d.getBlockCached(blockIndex)
		if block.err != nil {
			return block.err
		}
		for i, column := range block.columns {
			buf[blockIndex*dtedColumnsPerBlock+i] = column[row]
		}
	}
	return nil
}

// getBlockCached returns the block at blockIndex, using d's cache if
// possible. Failed blocks are cached too.
func (d *DTEDDataset) getBlockCached(blockIndex int) *dtedBlock {
	if block, ok := d.blockCache.Get(blockIndex); ok {
		blockCacheHits.WithLabelValues(DriverDTED).Inc()
		return block
	}
	blockCacheMisses.WithLabelValues(DriverDTED).Inc()
	block := d.getBlock(blockIndex)
	if eviction := d.blockCache.Add(blockIndex, block); eviction {
		blockCacheEvictions.WithLabelValues(DriverDTED).Inc()
	}
	return block
}

// getBlock reads and decodes the block at blockIndex.
func (d *DTEDDataset) getBlock(blockIndex int) *dtedBlock {
	firstColumn := blockIndex * dtedColumnsPerBlock
	n := min(dtedColumnsPerBlock, d.width-firstColumn)
	data := make([]byte, n*d.recordSize)
	if err := d.readFull(data, d.dataOffset+int64(firstColumn*d.recordSize)); err != nil {
		return &dtedBlock{err: err}
	}
	block := &dtedBlock{
		columns: make([][]int16, n),
	}
	for i := range n {
		column, err := d.decodeRecord(data[i*d.recordSize : (i+1)*d.recordSize])
		if err != nil {
			return &dtedBlock{err: fmt.Errorf("longitude line %d: %w", firstColumn+i, err)}
		}
		block.columns[i] = column
	}
	return block
}

// decodeRecord decodes a single data record, returning its elevations
// north up.
func (d *DTEDDataset) decodeRecord(record []byte) ([]int16, error) {
	if record[0] != dtedRecordSentinel {
		return nil, errBadSentinel
	}
	if d.verifyChecksum {
		checksumOffset := len(record) - 4
		var sum uint32
		for _, b := range record[:checksumOffset] {
			sum += uint32(b)
		}
		if sum != binary.BigEndian.Uint32(record[checksumOffset:]) {
			return nil, errBadChecksum
		}
	}
	column := make([]int16, d.height)
	for i := range d.height {
		// Elevations are signed magnitude.
		u := binary.BigEndian.Uint16(record[8+2*i:])
		elevation := int16(u & 0x7fff)
		if u&0x8000 != 0 {
			elevation = -elevation
		}
		column[d.height-1-i] = elevation
	}
	return column, nil
}

func (d *DTEDDataset) readFull(p []byte, offset int64) error {
	switch n, err := d.file.ReadAt(p, offset); {
	case n == len(p):
		return nil
	case err != nil:
		return err
	default:
		return errShortRead
	}
}

// parseDTEDAngle parses an angle in DDDMMSSH format.
func parseDTEDAngle(field []byte) (float64, error) {
	s := string(field)
	degrees, err := strconv.Atoi(s[0:3])
	if err != nil {
		return 0, errBadUHL
	}
	minutes, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, errBadUHL
	}
	seconds, err := strconv.Atoi(s[5:7])
	if err != nil {
		return 0, errBadUHL
	}
	angle := float64(degrees) + float64(minutes)/60 + float64(seconds)/3600
	switch s[7] {
	case 'N', 'E':
		return angle, nil
	case 'S', 'W':
		return -angle, nil
	default:
		return 0, errBadUHL
	}
}

// parseDTEDInt parses a fixed width, space padded, decimal integer.
func parseDTEDInt(field []byte) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(string(field)))
	if err != nil {
		return 0, errBadUHL
	}
	return i, nil
}
