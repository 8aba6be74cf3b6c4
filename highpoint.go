// Package highpoint finds the highest sample in an elevation raster and
// reports where it is.
package highpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
)

var (
	ErrOpen         = errors.New("failed to open dataset")
	ErrBand         = errors.New("failed to get raster band")
	ErrGeoTransform = errors.New("failed to get geotransform")
)

// An OpenFunc opens the dataset called name.
type OpenFunc func(ctx context.Context, name string) (Dataset, error)

// A Finder finds the highest point in a raster.
type Finder struct {
	open   OpenFunc
	stdout io.Writer
	logger *slog.Logger
}

// A FinderOption sets an option on a Finder.
type FinderOption func(*Finder)

// A Result is the result of a scan.
type Result struct {
	Width        int
	Height       int
	MaxElevation float64
	Column       int
	Row          int
	Longitude    float64
	Latitude     float64
	RowsRead     int
	RowsSkipped  int
}

// NewFinder returns a new Finder with the given options. By default it opens
// datasets with [Open] and discards its progress output.
func NewFinder(options ...FinderOption) *Finder {
	f := &Finder{
		open: func(ctx context.Context, name string) (Dataset, error) {
			return Open(ctx, name)
		},
		stdout: io.Discard,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

func WithOpenFunc(open OpenFunc) FinderOption {
	return func(f *Finder) {
		f.open = open
	}
}

// WithOpenOptions sets the options that the default OpenFunc passes to
// [Open].
func WithOpenOptions(openOptions ...OpenOption) FinderOption {
	return func(f *Finder) {
		f.open = func(ctx context.Context, name string) (Dataset, error) {
			return Open(ctx, name, openOptions...)
		}
	}
}

func WithStdout(stdout io.Writer) FinderOption {
	return func(f *Finder) {
		f.stdout = stdout
	}
}

func WithLogger(logger *slog.Logger) FinderOption {
	return func(f *Finder) {
		f.logger = logger
	}
}

// FindHighestPoint scans band 1 of the dataset called name and returns the
// highest sample and its location. The raster size and the location are
// written to f's stdout as they become known.
//
// Rows that cannot be read are skipped. If no row could be read then the
// returned Result has MaxElevation -math.MaxFloat64 and Found returns false.
func (f *Finder) FindHighestPoint(ctx context.Context, name string) (*Result, error) {
	dataset, err := f.open(ctx, name)
	if err != nil {
		scans.WithLabelValues("open_failure").Inc()
		return nil, fmt.Errorf("%s: %w: %w", name, ErrOpen, err)
	}
	defer func() {
		if err := dataset.Close(); err != nil {
			f.logger.Warn("close", "name", name, "err", err)
		}
	}()

	result, err := f.scan(ctx, dataset)
	switch {
	case errors.Is(err, ErrBand):
		scans.WithLabelValues("band_failure").Inc()
		return nil, err
	case errors.Is(err, ErrGeoTransform):
		scans.WithLabelValues("geotransform_failure").Inc()
		return nil, err
	case err != nil:
		scans.WithLabelValues("error").Inc()
		return nil, err
	}
	scans.WithLabelValues("success").Inc()

	f.logger.Info("scanned",
		"name", name,
		"rowsRead", result.RowsRead,
		"rowsSkipped", result.RowsSkipped,
		"maxElevation", result.MaxElevation,
	)
	fmt.Fprintf(f.stdout, "Longitude: %s\nLatitude: %s\n", formatFloat(result.Longitude), formatFloat(result.Latitude))
	return result, nil
}

// scan reads every row of band 1 of dataset.
func (f *Finder) scan(ctx context.Context, dataset Dataset) (*Result, error) {
	band, err := dataset.RasterBand(1)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBand, err)
	}

	width, height := band.Size()
	fmt.Fprintf(f.stdout, "width: %d\nheight: %d\n", width, height)

	geoTransform, err := dataset.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeoTransform, err)
	}

	result := &Result{
		Width:        width,
		Height:       height,
		MaxElevation: -math.MaxFloat64,
	}
	samples := make([]int16, width)
	for row := range height {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := band.ReadRow(ctx, row, samples); err != nil {
			f.logger.Debug("skip row", "row", row, "err", err)
			result.RowsSkipped++
			rowsSkipped.Inc()
			continue
		}
		result.RowsRead++
		rowsRead.Inc()
		for column, sample := range samples {
			if elevation := float64(sample); elevation > result.MaxElevation {
				result.MaxElevation = elevation
				result.Column = column
				result.Row = row
			}
		}
	}

	result.Longitude, result.Latitude = geoTransform.Apply(result.Column, result.Row)
	return result, nil
}

// Found returns whether any sample was read.
func (r *Result) Found() bool {
	return r.Width > 0 && r.RowsRead > 0
}

// WriteReport writes a human readable summary of r to w.
func (r *Result) WriteReport(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Highest point:\nElevation: %s meters\nLocation: %s°N, %s°E\n",
		formatFloat(r.MaxElevation),
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
	)
	return err
}

// formatFloat formats f with six significant digits, trimming trailing
// zeros.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}
