package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/twpayne/go-highpoint"
)

// A config holds the defaults for command line flags.
type config struct {
	Driver          string
	LogLevel        string
	BlockCacheSize  int
	MetricsTextfile string
	VerifyChecksum  bool
}

// loadConfig reads configuration from highpoint.yaml, if present, and
// HIGHPOINT_* environment variables. If the config file cannot be read then
// it returns the configuration from defaults and the environment alongside
// the error.
func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigName("highpoint")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/highpoint")

	v.SetDefault("driver", highpoint.DriverAuto)
	v.SetDefault("log_level", "warn")
	v.SetDefault("block_cache_size", 128<<20)
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("verify_checksum", false)

	v.SetEnvPrefix("HIGHPOINT")
	v.AutomaticEnv()

	var configErr error
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			configErr = fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &config{
		Driver:          v.GetString("driver"),
		LogLevel:        v.GetString("log_level"),
		BlockCacheSize:  v.GetInt("block_cache_size"),
		MetricsTextfile: v.GetString("metrics_textfile"),
		VerifyChecksum:  v.GetBool("verify_checksum"),
	}, configErr
}

// parseLogLevel parses a log level name.
func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, err
	}
	return level, nil
}
