package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amoylab/coordinator/internal/auth"
	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/gateway"
	"github.com/amoylab/coordinator/internal/presence"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/storelink"
	"github.com/amoylab/coordinator/pkg/helper"
	"github.com/amoylab/coordinator/pkg/logger"
	"github.com/amoylab/coordinator/pkg/metrics"
	"github.com/amoylab/coordinator/pkg/trace"
	"github.com/amoylab/coordinator/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of " + cnst.CommandName,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.Get())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Test the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfgPath, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration file %s test failed: %w", cfgPath, err)
			}
			fmt.Printf("configuration file %s test is successful\n", cfgPath)
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Real-time state coordinator",
		Long:  `Coordinator multiplexes client websocket sessions onto a single backend state store link`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.CoordinatorYaml, "path to configuration file, like /etc/coordinator/coordinator.yaml")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testCmd)
}

func run() error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", cfgPath, err)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Sync()

	lg.Info("Starting coordinator",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			lg.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	if cfg.PID != "" {
		pidPath := helper.GetPIDPath(cfg.PID)
		removePID, err := helper.WritePIDFile(pidPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := removePID(); err != nil {
				lg.Warn("failed to remove PID file", zap.String("path", pidPath), zap.Error(err))
			}
		}()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	pub, err := presence.New(ctx, lg, cfg.Presence)
	if err != nil {
		return fmt.Errorf("failed to initialize presence mirror: %w", err)
	}
	defer pub.Close()

	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authenticator: %w", err)
	}
	if cfg.Auth.Mode == cnst.AuthModeJWT {
		lg.Warn("jwt auth mode enabled, clients must present signed credentials")
	}

	// Phase one: bind both listeners before anything is served.
	storeLn, err := net.Listen("tcp", cfg.Store.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for store on %s: %w", cfg.Store.Addr, err)
	}
	clientLn, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		_ = storeLn.Close()
		return fmt.Errorf("failed to listen for clients on %s: %w", cfg.Gateway.Addr, err)
	}
	lg.Info("Listening",
		zap.String("store", storeLn.Addr().String()),
		zap.String("clients", clientLn.Addr().String()))

	acceptor := storelink.NewAcceptor(lg, cfg.Store, m)
	gw := gateway.New(lg, cfg.Gateway, registry.New(), acceptor, authenticator, pub, m)
	var srvOpts []gateway.ServerOption
	if cfg.Tracing.Enabled {
		srvOpts = append(srvOpts, gateway.WithTracing(cfg.Tracing.ServiceName))
	}
	srv := gateway.NewServer(lg, cfg.Gateway, cfg.Metrics, gw, m, srvOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acceptor.Serve(gctx, storeLn, gw)
	})
	// Phase two: clients are served once the store link is up.
	g.Go(func() error {
		lg.Info("Waiting for store connection")
		select {
		case <-acceptor.Ready():
		case <-gctx.Done():
			_ = clientLn.Close()
			return nil
		}
		return srv.Serve(clientLn)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, cnst.ErrStoreLinkLost) {
		lg.Error("store link lost, exiting", zap.Error(err))
		return err
	}
	if err != nil {
		lg.Error("coordinator stopped with error", zap.Error(err))
		return err
	}
	lg.Info("Coordinator stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
