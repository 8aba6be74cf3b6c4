// Command highpoint prints the location of the highest sample in an
// elevation raster.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/twpayne/go-highpoint"
)

var (
	errFlags = errors.New("invalid flags")
	errUsage = errors.New("usage")
)

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	// A broken config file is only reported once the arguments are known to
	// be usable.
	cfg, configErr := loadConfig()

	flagSet := flag.NewFlagSet(filepath.Base(args[0]), flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	driver := flagSet.String("driver", cfg.Driver, "driver ("+strings.Join(append([]string{highpoint.DriverAuto}, highpoint.Drivers()...), ", ")+")")
	logLevel := flagSet.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	blockCacheSize := flagSet.Int("block-cache-size", cfg.BlockCacheSize, "block cache size in bytes")
	metricsTextfile := flagSet.String("metrics-textfile", cfg.MetricsTextfile, "write metrics to this file")
	verifyChecksum := flagSet.Bool("verify-checksum", cfg.VerifyChecksum, "verify DTED record checksums")
	if err := flagSet.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %w", errFlags, err)
	}

	if flagSet.NArg() != 1 {
		return errUsage
	}
	if configErr != nil {
		return configErr
	}
	name := flagSet.Arg(0)

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: level,
	}))

	finder := highpoint.NewFinder(
		highpoint.WithStdout(stdout),
		highpoint.WithLogger(logger),
		highpoint.WithOpenOptions(
			highpoint.WithDriver(*driver),
			highpoint.WithBlockCacheSize(*blockCacheSize),
			highpoint.WithVerifyChecksum(*verifyChecksum),
			highpoint.WithOpenLogger(logger),
		),
	)
	result, err := finder.FindHighestPoint(ctx, name)
	if *metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(*metricsTextfile, prometheus.DefaultGatherer); err != nil {
			logger.Error("write metrics", "filename", *metricsTextfile, "err", err)
		}
	}
	if err != nil {
		logger.Debug("find highest point", "name", name, "err", err)
		return err
	}

	if !result.Found() {
		logger.Warn("no samples read", "name", name, "rowsSkipped", result.RowsSkipped)
	}
	return result.WriteReport(stdout)
}

// errorMessage returns the message printed for err.
func errorMessage(err error, args []string) string {
	switch {
	case errors.Is(err, errUsage):
		return fmt.Sprintf("Usage: %s <dted_filename>", args[0])
	case errors.Is(err, highpoint.ErrOpen):
		return fmt.Sprintf("Failed to open DTED file: %s", args[len(args)-1])
	case errors.Is(err, highpoint.ErrBand):
		return "Failed to get raster band"
	case errors.Is(err, highpoint.ErrGeoTransform):
		return "Failed to get geotransform"
	default:
		return err.Error()
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	switch err := run(ctx, args, stdout, stderr); {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errFlags):
		// The flag package has already reported the error.
		return 2
	case err != nil:
		fmt.Fprintln(stderr, errorMessage(err, args))
		return 1
	default:
		return 0
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args, os.Stdout, os.Stderr))
}
