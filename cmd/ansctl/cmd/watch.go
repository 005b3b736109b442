package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ans-project/ans/internal/natsserver"
	"github.com/ans-project/ans/internal/syncbus"
	"github.com/ans-project/ans/pkg/protocol"
)

func newWatchCmd() *cobra.Command {
	var (
		natsURL string
		token   string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream registry sync events from NATS",
		Long: `Subscribes to ans.sync.> on the registry's NATS server and prints each
register, update and deregister event until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("nats-url") {
				cfg.Set("nats.url", natsURL)
			}
			if cmd.Flags().Changed("token") {
				cfg.Set("nats.token", token)
			}

			logger := zerolog.New(
				zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			).Level(zerolog.WarnLevel).With().Timestamp().Logger()

			conn, err := natsserver.Connect(cfg.GetString("nats.url"), cfg.GetString("nats.token"), logger)
			if err != nil {
				return err
			}
			defer conn.Shutdown()

			sub, err := syncbus.Subscribe(conn.Conn(), logger, func(ev protocol.SyncEvent) {
				if asJSON {
					printJSON(ev)
					return
				}
				fmt.Printf("%s  %-16s %-9s %s %s\n",
					time.Unix(ev.Timestamp, 0).Format("15:04:05"),
					ev.Type, ev.Priority, ev.AgentID, ev.DID,
				)
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer sub.Unsubscribe()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			fmt.Fprintf(os.Stderr, "Watching %s on %s (Ctrl-C to stop)\n", protocol.SubjectSyncAll, cfg.GetString("nats.url"))
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default nats://127.0.0.1:4222)")
	cmd.Flags().StringVar(&token, "token", "", "NATS auth token")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return cmd
}
