package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  noArgs,
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

			profile := app.Auth.Profile()
			fmt.Printf("%s <%s>\n", color.CyanString(profile.DisplayName()), profile.Email)
			fmt.Printf("  UID: %s\n", profile.UID)
			return nil
		},
	}
}
