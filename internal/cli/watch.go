package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"livequiz-service/internal/config"
	"livequiz-service/internal/domain"
	natsbus "livequiz-service/internal/infra/nats"
)

// NewWatchCmd follows session events published on NATS by any instance.
func NewWatchCmd(configPath *string) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session events from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return fmt.Errorf("nats url not configured")
			}
			conn, err := natsbus.Connect(natsbus.DefaultConfig(cfg.NATS.URL))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().Str("subject", natsbus.Subject(cfg.NATS.SubjectPrefix, pin)).Msg("watching session events")
			return natsbus.Watch(ctx, conn, cfg.NATS.SubjectPrefix, pin, func(event domain.SessionEvent) {
				entry := log.Info().Str("event", string(event.Type)).Str("pin", event.PIN).Str("instance", event.Instance)
				if event.Session != nil {
					entry = entry.Str("status", string(event.Session.Status)).
						Int("question", event.Session.CurrentQuestion).
						Int("players", len(event.Session.Players))
				}
				entry.Msg("session event")
			})
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "only follow this session")
	return cmd
}
