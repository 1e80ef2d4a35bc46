// Package api implements the serve sub-command.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oasisprotocol/chainview/api"
	"github.com/oasisprotocol/chainview/codec"
	cmdCommon "github.com/oasisprotocol/chainview/cmd/common"
	"github.com/oasisprotocol/chainview/common"
	"github.com/oasisprotocol/chainview/config"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
)

const (
	moduleName = "api"
)

var (
	// Path to the configuration file.
	configFile string

	apiCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the chainview HTTP API",
		Run:   runServer,
	}
)

func runServer(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}

	if err = cmdCommon.Init(ctx, cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.RootLogger()

	if cfg.Server == nil {
		logger.Error("server config not provided")
		os.Exit(1)
	}

	service, err := Init(ctx, cfg)
	if err != nil {
		os.Exit(1)
	}
	defer service.Shutdown()

	if err := service.Start(ctx); err != nil {
		logger.Error("api service failed", "error", err)
		os.Exit(1)
	}
}

// Init initializes the API service.
func Init(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger := cmdCommon.RootLogger()

	service, err := NewService(ctx, cfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

// Service is the chainview API service.
type Service struct {
	server  string
	timeout time.Duration
	api     *api.ChainviewAPI
	source  *cmdCommon.Source
	logger  *log.Logger
}

// NewService creates a new API service.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source config not provided")
	}
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	source, err := cmdCommon.NewSource(ctx, cfg.Source, codec.Default(), logger)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if cfg.Server.RequestTimeout != nil {
		timeout = *cfg.Server.RequestTimeout
	}
	return &Service{
		server:  cfg.Server.Endpoint,
		timeout: timeout,
		api:     api.NewChainviewAPI(source.Storage, source.Events, source.Node, logger),
		source:  source,
		logger:  logger,
	}, nil
}

// Start serves the API until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting api service at " + s.server)

	handler := s.api.Router(api.MiddlewareConfig{
		Metrics:        metrics.NewDefaultRequestMetrics(moduleName),
		RequestTimeout: s.timeout,
	})

	// Leave room past the request timeout for the error response.
	writeTimeout := 30 * time.Second
	if s.timeout > 0 {
		writeTimeout = s.timeout + 5*time.Second
	}
	server := &http.Server{
		Addr:           s.server,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return common.RunServer(ctx, server, s.logger)
}

// Shutdown releases the node connection and cache.
func (s *Service) Shutdown() {
	s.source.Close(s.logger)
}

// Register registers the serve sub-command.
func Register(parentCmd *cobra.Command) {
	apiCmd.Flags().StringVar(&configFile, "config", "./conf/server.yml", "path to the config.yml file")
	parentCmd.AddCommand(apiCmd)
}
