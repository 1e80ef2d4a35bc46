// Package common implements common chainview command options.
package common

import (
	"context"
	"fmt"
	"io"
	stdLog "log"
	"os"

	"github.com/akrylysov/pogreb"
	"github.com/spf13/cobra"

	"github.com/oasisprotocol/chainview/config"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
)

var rootLogger = log.NewDefaultLogger("chainview")

// Logging overrides from the command line, applied over the config file.
var (
	flagLogFormat = log.FmtJSON
	flagLogLevel  = log.LevelDebug
	flagChanged   = func(string) bool { return false }
)

// RegisterLogFlags adds the logging flags to `cmd` and all its subcommands.
func RegisterLogFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.Var(&flagLogFormat, "log.format", "log format, overrides the config file")
	flags.Var(&flagLogLevel, "log.level", "minimum log level, overrides the config file")
	flagChanged = func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
}

// Init initializes the common environment. Background services started here
// stop when ctx is canceled.
func Init(ctx context.Context, cfg *config.Config) error {
	return InitWithLogStream(ctx, cfg, os.Stdout)
}

// InitWithLogStream is Init with logs going to `w` unless the config names a
// log file.
func InitWithLogStream(ctx context.Context, cfg *config.Config, w io.Writer) error {
	format := log.FmtJSON
	level := log.LevelDebug

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log, w); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	if flagChanged("log.format") {
		format = flagLogFormat
	}
	if flagChanged("log.level") {
		level = flagLogLevel
	}
	logger, err := log.NewLogger("chainview", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Initialize pogreb logging.
	pogrebLogger := RootLogger().WithModule("pogreb").WithCallerUnwind(7)
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(*pogrebLogger), "", 0))

	if cfg.Metrics != nil {
		promServer, err := metrics.NewPullService(cfg.Metrics.PullEndpoint, rootLogger)
		if err != nil {
			return fmt.Errorf("initializing metrics: %w", err)
		}
		go func() {
			if err := promServer.Run(ctx); err != nil {
				rootLogger.Error("metrics server stopped", "err", err)
			}
		}()
		if cfg.Metrics.PprofEndpoint != "" {
			startPprof(ctx, cfg.Metrics.PprofEndpoint)
		}
	}
	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig, fallback io.Writer) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return fallback, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}
