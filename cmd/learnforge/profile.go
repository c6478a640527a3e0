package main

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RashikaKarki/learnforge-cli/internal/api"
	"github.com/RashikaKarki/learnforge-cli/internal/validate"
)

func newProfileCmd() *cobra.Command {
	var (
		name  string
		style string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your profile",
		Long: `Without flags, shows the signed-in profile. With --name or
--learning-style, applies a partial update and shows the result.`,
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

			if !cmd.Flags().Changed("name") && !cmd.Flags().Changed("learning-style") {
				printProfile(app.Auth.Profile())
				return nil
			}

			var update api.ProfileUpdate
			if cmd.Flags().Changed("name") {
				clean := validate.SanitizeText(name)
				update.Name = &clean
			}
			if cmd.Flags().Changed("learning-style") {
				clean := validate.SanitizeText(style)
				update.LearningStyle = &clean
			}

			updated, err := app.Client.UpdateProfile(ctx, update)
			if err != nil {
				return err
			}
			if err := app.Store.UpsertProfile(ctx, updated); err != nil {
				slog.Warn("failed to cache updated profile", "error", err)
			}

			fmt.Println(color.GreenString("Profile updated"))
			fmt.Println()
			printProfile(updated)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&style, "learning-style", "", "new learning style, e.g. visual or hands-on")
	return cmd
}
