package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

func newMissionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "missions",
		Short: "List your enrolled missions",
		Long: `Lists enrolled missions with completion progress. The authoritative
list comes from the backend and refreshes the local snapshot; when the
backend is unreachable the cached snapshot is shown instead, marked as
cached.`,
		Args: noArgs,
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

			var missions []domain.EnrolledMission
			fetchErr := resumeErr
			if resumeErr == nil {
				missions, fetchErr = app.Client.EnrolledMissions(ctx, limit)
				if fetchErr == nil {
					if err := app.Store.ReplaceEnrolledMissions(ctx, missions); err != nil {
						slog.Warn("failed to cache enrolled missions", "error", err)
					}
					printMissions(missions, false)
					return nil
				}
				if !apperrors.Recoverable(fetchErr) {
					return fetchErr
				}
			}

			slog.Warn("backend unreachable, using cached missions", "error", fetchErr)
			missions, err = app.Store.ListEnrolledMissions(ctx, limit)
			if err != nil {
				return err
			}
			if len(missions) == 0 {
				return fetchErr
			}
			printMissions(missions, true)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum missions to show (0 means server default)")
	return cmd
}
