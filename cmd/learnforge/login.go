package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

func newLoginCmd() *cobra.Command {
	var (
		token      string
		tokenStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Learnforge",
		Long: `Exchanges an identity token for a backend session and stores the
credential locally so later commands can resume without signing in again.

The token is read from --token, from stdin with --token-stdin, or from a
hidden interactive prompt when neither is given.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token != "" && tokenStdin {
				return usageError{err: errors.New("--token and --token-stdin are mutually exclusive")}
			}

			idToken, err := resolveToken(token, tokenStdin)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Auth.SignIn(ctx, idToken); err != nil {
				if apperrors.IsKind(err, apperrors.KindAuthExpired) {
					return apperrors.New(apperrors.KindAuthExpired, "token rejected - request a fresh identity token and try again")
				}
				return err
			}

			profile := app.Auth.Profile()
			fmt.Println(color.GreenString("Signed in as %s", profile.DisplayName()))
			if profile.Email != "" {
				fmt.Printf("  Email: %s\n", profile.Email)
			}
			fmt.Printf("  UID:   %s\n", profile.UID)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "identity token (prompts when omitted)")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "read the identity token from stdin")
	return cmd
}

// resolveToken picks the token source: flag, stdin, or a hidden prompt.
func resolveToken(flagToken string, fromStdin bool) (string, error) {
	if flagToken != "" {
		return strings.TrimSpace(flagToken), nil
	}

	if fromStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read token from stdin: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", usageError{err: errors.New("no token provided on stdin")}
		}
		return token, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", usageError{err: errors.New("stdin is not a terminal - pass --token or --token-stdin")}
	}

	fmt.Fprint(os.Stderr, "Identity token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", usageError{err: errors.New("empty token")}
	}
	return token, nil
}
