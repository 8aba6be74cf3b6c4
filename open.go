package highpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
)

// Drivers.
const (
	DriverAuto    = "auto"
	DriverDTED    = "dted"
	DriverGeoTIFF = "geotiff"
	DriverGDAL    = "gdal"
)

// An OpenOption sets an option on Open.
type OpenOption func(*openOptions)

type openOptions struct {
	driver         string
	fsys           fs.FS
	blockCacheSize int
	verifyChecksum bool
	logger         *slog.Logger
}

type openDriverFunc func(ctx context.Context, name string, o *openOptions) (Dataset, error)

// drivers is populated at init time so that optional drivers can register
// themselves from files with build constraints.
var drivers = map[string]openDriverFunc{
	DriverDTED:    openDTED,
	DriverGeoTIFF: openGeoTIFF,
}

// A rasterFile is a file that supports random access.
type rasterFile interface {
	fs.File
	io.ReaderAt
	io.Seeker
}

// Drivers returns the names of the available drivers.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for _, name := range []string{DriverDTED, DriverGeoTIFF, DriverGDAL} {
		if _, ok := drivers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// WithDriver forces the driver used to open the dataset. The default,
// DriverAuto, detects the format from the file's contents.
func WithDriver(driver string) OpenOption {
	return func(o *openOptions) {
		o.driver = driver
	}
}

// WithFS sets the filesystem that datasets are opened from. It is ignored by
// the GDAL driver.
func WithFS(fsys fs.FS) OpenOption {
	return func(o *openOptions) {
		o.fsys = fsys
	}
}

// WithBlockCacheSize sets the maximum size in bytes of each dataset's cache
// of decoded blocks.
func WithBlockCacheSize(blockCacheSize int) OpenOption {
	return func(o *openOptions) {
		o.blockCacheSize = blockCacheSize
	}
}

// WithVerifyChecksum sets whether the DTED driver verifies data record
// checksums. Rows that need a record with a bad checksum cannot be read.
func WithVerifyChecksum(verifyChecksum bool) OpenOption {
	return func(o *openOptions) {
		o.verifyChecksum = verifyChecksum
	}
}

func WithOpenLogger(logger *slog.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// Open opens the dataset called name.
func Open(ctx context.Context, name string, options ...OpenOption) (Dataset, error) {
	o := &openOptions{
		driver:         DriverAuto,
		blockCacheSize: 128 << 20, // 128MB.
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(o)
	}

	driver := o.driver
	if driver == DriverAuto {
		var err error
		driver, err = detectDriver(o, name)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("detected driver", "name", name, "driver", driver)
	}

	openDriver, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("%s: driver %w", driver, errors.ErrUnsupported)
	}
	return openDriver(ctx, name, o)
}

// detectDriver returns the driver for name based on its leading bytes.
func detectDriver(o *openOptions, name string) (string, error) {
	file, err := o.openFile(name)
	if err != nil {
		return "", err
	}
	defer file.Close()

	magic := make([]byte, 4)
	switch _, err := io.ReadFull(file, magic); {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
	case err != nil:
		return "", err
	default:
		switch {
		case bytes.HasPrefix(magic, []byte("UHL")),
			bytes.HasPrefix(magic, []byte("VOL")),
			bytes.HasPrefix(magic, []byte("HDR")):
			return DriverDTED, nil
		case bytes.Equal(magic, []byte("II*\x00")),
			bytes.Equal(magic, []byte("MM\x00*")),
			bytes.Equal(magic, []byte("II+\x00")),
			bytes.Equal(magic, []byte("MM\x00+")):
			return DriverGeoTIFF, nil
		}
	}

	if _, ok := drivers[DriverGDAL]; ok {
		return DriverGDAL, nil
	}
	return "", fmt.Errorf("unknown format: %w", errors.ErrUnsupported)
}

// openFile opens name for random access.
func (o *openOptions) openFile(name string) (rasterFile, error) {
	var file fs.File
	var err error
	if o.fsys != nil {
		file, err = o.fsys.Open(name)
	} else {
		file, err = os.Open(name)
	}
	if err != nil {
		return nil, err
	}
	rf, ok := file.(rasterFile)
	if !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	return rf, nil
}
