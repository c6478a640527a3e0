package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/RashikaKarki/learnforge-cli/internal/chat"
	"github.com/RashikaKarki/learnforge-cli/internal/sched"
	"github.com/RashikaKarki/learnforge-cli/internal/tui"
	"github.com/RashikaKarki/learnforge-cli/internal/validate"
)

// transcriptKeep bounds how far back locally stored conversations are
// retained. Pruning runs opportunistically on chat start.
const transcriptKeep = 30 * 24 * time.Hour

func newChatCmd() *cobra.Command {
	var missionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the Learnforge agent",
		Long: `Opens an interactive conversation with the Learnforge agent, or with a
mission ally when --mission is given. The channel heartbeats, reconnects
automatically after drops, and stores the transcript locally.

Keys: enter sends, ctrl+r forces a reconnect, esc quits.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := requireSession(ctx, app); err != nil {
				return err
			}

			session, err := app.Client.CreateSession(ctx)
			if err != nil {
				return err
			}

			target := chat.AgentTarget(session.SessionID)
			title := "Learnforge Agent"
			if missionID != "" {
				if err := validate.ValidateIdentifier(missionID, 64); err != nil {
					return err
				}
				target = chat.AllyTarget(missionID, session.SessionID)
				title = allyTitle(ctx, app, missionID)
			}

			cfg := app.Config
			mgr := chat.NewManager(cfg.WSBaseURL, app.Auth, app.Store, sched.NewWall(), chat.Options{
				HeartbeatInterval:    cfg.HeartbeatInterval,
				ReconnectDelay:       cfg.ReconnectDelay,
				ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
				SendLimit:            cfg.ChatRateLimit,
				SendWindow:           cfg.ChatRateWindow,
				ReconnectLimit:       cfg.ReconnectRateLimit,
				ReconnectWindow:      cfg.ReconnectRateWindow,
			})
			defer mgr.Close()
			mgr.SetUser(app.Auth.UID())

			if pruned, err := app.Store.PruneTranscripts(ctx, transcriptKeep); err != nil {
				slog.Warn("transcript prune failed", "error", err)
			} else if pruned > 0 {
				slog.Debug("pruned old transcript rows", "rows", pruned)
			}

			initial, err := app.Store.RecentTranscript(ctx, target.Key(), 50)
			if err != nil {
				slog.Warn("failed to load cached transcript", "error", err)
			}

			return tui.Run(ctx, mgr, target, title, initial)
		},
	}

	cmd.Flags().StringVar(&missionID, "mission", "", "mission id to open the ally conversation for")
	return cmd
}

// allyTitle resolves the mission title for the chat header, falling back
// to the cache and then the raw id.
func allyTitle(ctx context.Context, app *App, missionID string) string {
	if mission, err := app.Client.Mission(ctx, missionID); err == nil {
		return fmt.Sprintf("Ally · %s", mission.Title)
	} else if cached, cacheErr := app.Store.GetMission(ctx, missionID); cacheErr == nil && cached != nil {
		return fmt.Sprintf("Ally · %s", cached.Title)
	}
	return fmt.Sprintf("Ally · %s", missionID)
}
