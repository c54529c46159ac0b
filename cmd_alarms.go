package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xiaoyuanzhu-com/sync-alarm/alarms"
	"github.com/xiaoyuanzhu-com/sync-alarm/config"
	"github.com/xiaoyuanzhu-com/sync-alarm/models"
	"github.com/xiaoyuanzhu-com/sync-alarm/reconcile"
)

func newAlarmsCommand(cfg *config.Config) *cobra.Command {
	var serverURL string
	client := func() *reconcile.HTTPAPI { return reconcile.NewHTTPAPI(serverURL) }

	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "Manage the shared alarm list",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", cfg.ServerURL, "server base URL")

	list := &cobra.Command{
		Use:   "list",
		Short: "List alarms in time order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListAlarms(cmd.Context())
			if err != nil {
				return err
			}
			return printAlarms(cmd.OutOrStdout(), items, time.Now())
		},
	}

	add := &cobra.Command{
		Use:   "add HH:MM TITLE",
		Short: "Create an enabled alarm",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alarm, err := client().CreateAlarm(cmd.Context(), args[1], args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alarm)
		},
	}

	toggle := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ID",
			Short: fmt.Sprintf("Set enabled=%t on an alarm", enabled),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				alarm, err := client().SetEnabled(cmd.Context(), id, enabled)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), alarm)
			},
		}
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an alarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return client().DeleteAlarm(cmd.Context(), id)
		},
	}

	snooze := &cobra.Command{
		Use:   "snooze ID",
		Short: fmt.Sprintf("Push an alarm back %d minutes", alarms.SnoozeMinutes),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			alarm, err := client().SnoozeAlarm(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alarm)
		},
	}

	devices := &cobra.Command{
		Use:   "devices",
		Short: "Show connected devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client().Presence(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	cmd.AddCommand(list, add, toggle("enable", true), toggle("disable", false), del, snooze, devices)
	return cmd
}

// newKickCommand connects as the main device just long enough to remove another one
func newKickCommand(cfg *config.Config) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "kick SESSION_ID",
		Short: "Ask a device to disconnect (advisory; requires the main role)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// throwaway state: the device cache on disk is left alone
			engine := reconcile.NewEngine(reconcile.NewHTTPAPI(serverURL), &reconcile.MemoryCache{}, models.RoleMain)
			conn, err := reconcile.NewConnection(serverURL, engine, 0)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- conn.Run(ctx) }()

			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for engine.SelfID() == "" {
				select {
				case err := <-done:
					if err == nil {
						err = ctx.Err()
					}
					return fmt.Errorf("could not connect: %w", err)
				case <-ticker.C:
				}
			}
			if err := conn.Kick(args[0]); err != nil {
				return err
			}
			cancel()
			<-done
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", cfg.ServerURL, "server base URL")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid alarm id %q", s)
	}
	return id, nil
}

func printAlarms(w io.Writer, alarms []models.Alarm, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tON\tIN\tTITLE")
	for _, a := range alarms {
		in := "-"
		if c, err := models.ParseClock(a.Time); err == nil && a.Enabled {
			in = reconcile.FormatCountdown(reconcile.Countdown(c, now))
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", a.ID, a.Time, a.Enabled, in, a.Title)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
