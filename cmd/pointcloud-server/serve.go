package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/open-teleop/pointcloud-server/pkg/api"
	"github.com/open-teleop/pointcloud-server/pkg/config"
	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/pkg/zeromq"
	"github.com/open-teleop/pointcloud-server/services"
	"github.com/spf13/cobra"
)

var (
	configDirFlag string
	pcdFlag       string
	portFlag      int
)

// serveCmd runs the HTTP server until SIGINT or SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the point cloud HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configDirFlag, "config-dir", ".", "Directory containing "+config.BootstrapConfigFilename)
	serveCmd.Flags().StringVar(&pcdFlag, "pcd", "", "Point cloud file to serve (overrides config and environment)")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "HTTP port (overrides config and environment)")
}

func loadConfig(cmd *cobra.Command) (*config.BootstrapConfig, error) {
	if _, err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg, err := config.LoadBootstrapConfig(configDirFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load bootstrap configuration: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cmd.Flags().Changed("pcd") {
		cfg.Data.File = pcdFlag
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.HTTPPort = portFlag
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := customlog.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.LogPath)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infof("Point cloud server v%s starting", version)

	exeDir, err := config.ExecutableDir()
	if err != nil {
		return err
	}
	cloudPath, err := cfg.ResolveCloudPath(exeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve point cloud path: %w", err)
	}

	cloudService, err := services.NewPointCloudService(cloudPath, services.ServiceOptions{
		CacheEnabled: cfg.Cache.Enabled,
	}, logger)
	if err != nil {
		return err
	}

	writeTimeout := time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond
	app := api.NewApp(api.AppConfig{
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:   writeTimeout,
		RequestTimeout: writeTimeout,
	}, cloudService, logger)

	var zmqService *zeromq.ZeroMQService
	if addr := cfg.ZeroMQ.RequestBindAddress; addr != "" {
		zmqService, err = zeromq.NewZeroMQService(addr, logger)
		if err != nil {
			return fmt.Errorf("failed to create ZeroMQ service: %w", err)
		}
		zeromq.RegisterCloudHandlers(zmqService, zeromq.NewCloudHandler(cloudService, logger, writeTimeout))
		if err := zmqService.Start(); err != nil {
			zmqService.Stop()
			return fmt.Errorf("failed to start ZeroMQ service: %w", err)
		}
		defer zmqService.Stop()
	}

	listenErr := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.HTTPPort)
		logger.WithFields(map[string]interface{}{
			"addr": addr,
			"pcd":  cloudPath,
		}).Infof("HTTP server listening")
		listenErr <- app.Listen(addr)
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Infof("Received %s, shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Infof("Server exited properly")
	return nil
}
