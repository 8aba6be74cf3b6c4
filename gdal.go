//go:build gdal

package highpoint

import (
	"context"
	"fmt"

	"github.com/lukeroth/gdal"
)

// defaultGDALGeoTransform is the geotransform GDAL reports for datasets
// without one.
var defaultGDALGeoTransform = [6]float64{0, 1, 0, 0, 0, 1}

func init() {
	drivers[DriverGDAL] = openGDAL
}

// A GDALDataset is a dataset opened with GDAL.
type GDALDataset struct {
	dataset gdal.Dataset
}

// A gdalBand is a band of a GDALDataset.
type gdalBand struct {
	band gdal.RasterBand
}

func openGDAL(ctx context.Context, name string, o *openOptions) (Dataset, error) {
	dataset, err := gdal.Open(name, gdal.ReadOnly)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("opened with gdal", "name", name, "driver", dataset.Driver().ShortName())
	return &GDALDataset{
		dataset: dataset,
	}, nil
}

func (d *GDALDataset) Close() error {
	d.dataset.Close()
	return nil
}

func (d *GDALDataset) RasterBand(index int) (Band, error) {
	if index < 1 || d.dataset.RasterCount() < index {
		return nil, fmt.Errorf("%d: %w", index, ErrNoBand)
	}
	return &gdalBand{
		band: d.dataset.RasterBand(index),
	}, nil
}

func (d *GDALDataset) GeoTransform() (GeoTransform, error) {
	geoTransform := d.dataset.GeoTransform()
	if geoTransform == defaultGDALGeoTransform {
		return GeoTransform{}, ErrNoGeoTransform
	}
	return GeoTransform(geoTransform), nil
}

func (b *gdalBand) Size() (int, int) {
	return b.band.XSize(), b.band.YSize()
}

func (b *gdalBand) ReadRow(ctx context.Context, row int, buf []int16) error {
	width := len(buf)
	return b.band.IO(gdal.Read, 0, row, width, 1, buf, width, 1, 0, 0)
}
