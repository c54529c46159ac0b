package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xiaoyuanzhu-com/sync-alarm/config"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/reconcile"
)

type deviceOptions struct {
	serverURL      string
	role           string
	cachePath      string
	reconnectDelay time.Duration
}

func (o *deviceOptions) bind(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&o.serverURL, "server", cfg.ServerURL, "server base URL")
	cmd.Flags().StringVar(&o.role, "role", cfg.Role, "device role (main or receiver); empty reuses the cached role")
	cmd.Flags().StringVar(&o.cachePath, "cache", cfg.CachePath, "device state file")
	cmd.Flags().DurationVar(&o.reconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "wait between push channel attempts")
}

// device wires an engine to its cache and push channel
func (o *deviceOptions) device(notify func(reconcile.Notification)) (*reconcile.Engine, *reconcile.Connection, error) {
	role := models.Role(o.role)
	if role != "" && !role.Valid() {
		return nil, nil, fmt.Errorf("invalid role %q: must be main or receiver", o.role)
	}

	var opts []reconcile.Option
	if notify != nil {
		opts = append(opts, reconcile.WithNotifier(notify))
	}
	engine := reconcile.NewEngine(reconcile.NewHTTPAPI(o.serverURL), reconcile.NewFileCache(o.cachePath), role, opts...)
	conn, err := reconcile.NewConnection(o.serverURL, engine, o.reconnectDelay)
	if err != nil {
		return nil, nil, err
	}
	return engine, conn, nil
}

func newReceiverCommand(cfg *config.Config) *cobra.Command {
	var opts deviceOptions

	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "Run a headless device that follows the shared alarm list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceiver(cmd.Context(), &opts)
		},
	}
	opts.bind(cmd, cfg)
	return cmd
}

func runReceiver(ctx context.Context, opts *deviceOptions) error {
	logger := log.GetLogger("Device")

	engine, conn, err := opts.device(func(n reconcile.Notification) {
		logger.Info().Int64("alarmId", n.AlarmID).Str("title", n.Title).Msg(n.Message)
	})
	if err != nil {
		return err
	}

	ringing := map[int64]bool{}
	runner := &reconcile.Runner{
		Engine:     engine,
		Connection: conn,
		OnTick: func(now time.Time, d reconcile.Derived) {
			next := map[int64]bool{}
			for _, id := range d.Triggering {
				next[id] = true
				if !ringing[id] {
					logger.Warn().Int64("alarmId", id).Str("at", now.Format("15:04")).Msg("alarm ringing")
				}
			}
			ringing = next
		},
	}

	logger.Info().Str("server", opts.serverURL).Str("role", opts.role).Msg("device starting")
	err = runner.Run(ctx)
	switch {
	case errors.Is(err, reconcile.ErrKicked):
		logger.Warn().Msg("removed by the main device; role cleared")
		return err
	case errors.Is(err, reconcile.ErrNoRole):
		return fmt.Errorf("%w: pass --role main or --role receiver", err)
	case err != nil && ctx.Err() == nil:
		return err
	}
	return nil
}
