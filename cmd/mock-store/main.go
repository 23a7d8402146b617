package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/coordinator/cmd/mock-store/backend"
	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	addr      string
	byteOrder string
	format    string
	logger    *zap.Logger
)

func init() {
	// Initialize logger
	var err error
	logger, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "127.0.0.1:7147", "Coordinator store address to connect to")
	rootCmd.PersistentFlags().StringVarP(&byteOrder, "byte-order", "b", string(config.BigEndian), "Session id byte order, big or little")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", string(cnst.InboundImplicit), "Inbound message format, implicit or typed")
}

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mock-store",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mock-store version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "mock-store",
		Short: "Mock State Store",
		Long:  `Mock State Store connects to a coordinator and keeps session state in memory for testing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to coordinator: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	logger.Info("Connected to coordinator", zap.String("addr", addr))
	store := backend.NewStore(logger, config.ByteOrder(byteOrder).Order(), cnst.InboundFormat(format))
	if err := store.Serve(conn); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Mock store stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
