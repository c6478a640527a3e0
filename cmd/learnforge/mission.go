package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

func newMissionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mission <id>",
		Short: "Show a mission with checkpoint progress",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			resumeErr := requireSession(ctx, app)
			if resumeErr != nil && !apperrors.Recoverable(resumeErr) {
				return resumeErr
			}

			missionID := args[0]
			var mission *domain.Mission
			cached := false

			fetchErr := resumeErr
			if resumeErr == nil {
				mission, fetchErr = app.Client.Mission(ctx, missionID)
				if fetchErr == nil {
					if err := app.Store.UpsertMission(ctx, mission); err != nil {
						slog.Warn("failed to cache mission", "error", err)
					}
				} else if !apperrors.Recoverable(fetchErr) {
					return fetchErr
				}
			}
			if mission == nil {
				slog.Warn("backend unreachable, using cached mission", "error", fetchErr)
				mission, err = app.Store.GetMission(ctx, missionID)
				if err != nil {
					return err
				}
				if mission == nil {
					return fetchErr
				}
				cached = true
			}

			state, err := app.Store.GetCheckpointState(ctx, mission.MissionID)
			if err != nil {
				slog.Warn("failed to load checkpoint state", "error", err)
			}

			printMission(mission, state, cached)
			return nil
		},
	}
}
