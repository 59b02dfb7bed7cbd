package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"livequiz-service/internal/client"
)

// NewPlayCmd joins a session with one or more bot players.
func NewPlayCmd() *cobra.Command {
	var (
		url   string
		pin   string
		name  string
		bots  int
		react string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a session with bot players that answer at random",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pin == "" {
				return fmt.Errorf("--pin is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < bots; i++ {
				botName := name
				if bots > 1 {
					botName = fmt.Sprintf("%s %d", name, i+1)
				}
				player := client.NewPlayer(client.Config{
					URL:    url,
					PIN:    pin,
					Name:   botName,
					UserID: uuid.NewString(),
					React:  react,
				})
				g.Go(func() error {
					summary, err := player.Run(gctx)
					if err != nil {
						return fmt.Errorf("%s: %w", botName, err)
					}
					log.Info().
						Str("name", botName).
						Int("score", summary.Score).
						Int("answered", summary.Answered).
						Int("correct", summary.Correct).
						Bool("kicked", summary.Kicked).
						Float64("clock_offset_s", summary.Offset).
						Msg("bot finished")
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "websocket endpoint")
	cmd.Flags().StringVar(&pin, "pin", "", "session PIN")
	cmd.Flags().StringVar(&name, "name", "Bot", "display name (numbered when --bots > 1)")
	cmd.Flags().IntVar(&bots, "bots", 1, "number of players")
	cmd.Flags().StringVar(&react, "react", "", "emoji to send after each answer")
	return cmd
}
