package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/roomlink/roomlink/internal/adapters/rtc"
	"github.com/roomlink/roomlink/internal/client"
	"github.com/roomlink/roomlink/internal/config"
	"github.com/roomlink/roomlink/internal/core"
)

var (
	serverURL   string
	roomName    string
	displayName string
	videoOn     bool
	audioOn     bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and hold peer links until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		sc := client.NewSignalClient()
		if err := sc.Dial(serverURL); err != nil {
			return err
		}
		defer sc.Close()

		coord := client.NewCoordinator(sc, sc.Incoming(), client.CoordinatorConfig{
			Room:        roomName,
			DisplayName: displayName,
			Links:       rtc.NewLinkFactory(cfg.StunServers),
			Policy: client.ReconnectPolicy{
				Initial:     cfg.ReconnectInitial,
				Multiplier:  cfg.ReconnectMultiplier,
				MaxAttempts: cfg.ReconnectMaxAttempts,
			},
			Source:    client.NullSource{},
			Renderer:  logRenderer{},
			MuteVideo: !videoOn,
			MuteAudio: !audioOn,
		})

		log.Info().Str("room", roomName).Str("name", displayName).Str("server", serverURL).Msg("joining room")
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	joinCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080/api/ws/signal", "signaling server websocket URL")
	joinCmd.Flags().StringVarP(&roomName, "room", "r", "", "room to join")
	joinCmd.Flags().StringVarP(&displayName, "name", "n", "", "display name")
	joinCmd.Flags().BoolVar(&videoOn, "video", true, "start with video enabled")
	joinCmd.Flags().BoolVar(&audioOn, "audio", true, "start with audio enabled")
	_ = joinCmd.MarkFlagRequired("room")
	_ = joinCmd.MarkFlagRequired("name")
}

// logRenderer is the terminal's rendering surface: it just reports what
// a browser client would draw.
type logRenderer struct{}

func (logRenderer) Render(peer string, track core.MediaTrack) {
	log.Info().Str("peer", peer).Str("kind", track.Kind()).Str("track", track.ID()).Msg("remote track")
}

func (logRenderer) Drop(peer string) {
	log.Info().Str("peer", peer).Msg("peer removed")
}
