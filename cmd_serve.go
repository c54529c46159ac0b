package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xiaoyuanzhu-com/sync-alarm/api"
	"github.com/xiaoyuanzhu-com/sync-alarm/config"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(cfg *config.Config) *cobra.Command {
	serverCfg := server.FromAppConfig(cfg)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alarm server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serverCfg)
		},
	}
	cmd.Flags().IntVar(&serverCfg.Port, "port", serverCfg.Port, "listen port")
	cmd.Flags().StringVar(&serverCfg.Host, "host", serverCfg.Host, "listen address")
	cmd.Flags().StringVar(&serverCfg.DatabasePath, "db", serverCfg.DatabasePath, "sqlite database path")
	cmd.Flags().IntVar(&serverCfg.SendBuffer, "send-buffer", serverCfg.SendBuffer, "per-session outbound queue length")
	return cmd
}

func runServe(ctx context.Context, cfg *server.Config) error {
	// Set Gin to release mode to disable its default debug logging
	// We use our own zerolog-based request logger instead
	gin.SetMode(gin.ReleaseMode)

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	api.NewHandlers(srv).SetupRoutes(srv.Router())

	if err := srv.Listen(); err != nil {
		srv.Shutdown(context.Background())
		return err
	}
	printNetworkAddresses(cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		srv.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	// Shutdown server with timeout to close remaining HTTP connections
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
