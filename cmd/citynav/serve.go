package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

var serveListen string

var serveOracleCmd = &cobra.Command{
	Use:   "serve-oracle",
	Short: "Serve the configured decision-maker over gRPC",
	Long: `Exposes the oracle selected by oracle.kind on the remote oracle protocol,
so several runs can share one model endpoint and its rate limit.`,
	RunE: serveOracle,
}

func init() {
	serveOracleCmd.Flags().StringVar(&serveListen, "listen", ":50051", "listen address")
}

func serveOracle(cmd *cobra.Command, args []string) error {
	if cfg.Oracle.Kind == "remote" {
		return errors.New("serve-oracle needs a local oracle kind, not remote")
	}
	base, closeOracle, err := buildOracle(cfg.Oracle, logger)
	if err != nil {
		return err
	}
	defer closeOracle()

	lis, err := net.Listen("tcp", serveListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", serveListen, err)
	}
	s := grpc.NewServer()
	oracle.RegisterOracleServer(s, withRetry(base, cfg.Oracle, logger))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		logger.Info("shutting down oracle server")
		s.GracefulStop()
	}()

	logger.Info("oracle server listening", zap.String("addr", lis.Addr().String()), zap.String("oracle", cfg.Oracle.Kind))
	return s.Serve(lis)
}
