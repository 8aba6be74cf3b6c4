package highpoint

import (
	"context"
	"errors"
)

var (
	ErrNoBand         = errors.New("no such band")
	ErrNoGeoTransform = errors.New("no geotransform")
)

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A GeoTransform is an affine transform from raster grid coordinates to
// georeferenced coordinates, in GDAL order: origin X, pixel width, row
// rotation, origin Y, column rotation, pixel height.
type GeoTransform [6]float64

// Apply returns the georeferenced coordinates of the grid position (column,
// row). The rotation terms are ignored, so the result is only correct for
// north-up rasters.
func (t GeoTransform) Apply(column, row int) (x, y float64) {
	x = t[0] + float64(column)*t[1]
	y = t[3] + float64(row)*t[5]
	return x, y
}

// A Dataset is an open raster dataset.
type Dataset interface {
	RasterBand(index int) (Band, error)
	GeoTransform() (GeoTransform, error)
	Close() error
}

// A Band is a single channel of a Dataset. It is only valid while its
// Dataset is open.
type Band interface {
	Size() (width, height int)
	// ReadRow reads row into buf, which must have length width, converting
	// samples to signed 16-bit integers.
	ReadRow(ctx context.Context, row int, buf []int16) error
}
