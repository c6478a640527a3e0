package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

func newLogoutCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear local state",
		Long: `Revokes the backend session, deletes the stored credential, and wipes
the cached profile, missions, and transcripts.

When the backend is unreachable the command aborts so the server-side
session is not left dangling. Pass --force to clear local state anyway.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			stored, err := app.Auth.Credential(ctx)
			if err != nil {
				return err
			}
			if stored == "" {
				fmt.Println("Not signed in.")
				return nil
			}

			if !force {
				if _, err := app.Client.SessionStatus(ctx); apperrors.Recoverable(err) {
					return apperrors.Wrap(apperrors.GetKind(err),
						"backend unreachable - use --force to clear local state anyway", err)
				}
			}

			if err := app.Auth.SignOut(ctx); err != nil {
				return err
			}
			fmt.Println(color.GreenString("Signed out"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "clear local state even when the backend is unreachable")
	return cmd
}
