package main

import (
	"github.com/spf13/cobra"
)

// usageError marks CLI misuse so main can exit with the usage code
// instead of the general failure code.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "learnforge",
		Short: "Terminal client for the Learnforge learning platform",
		Long: `learnforge is the terminal client for the Learnforge learning-missions
platform. It signs you in, keeps your session alive in the background,
lists your enrolled missions with checkpoint progress, and opens an
interactive chat with the Learnforge agent or a per-mission ally.

Read commands fall back to the local cache when the backend is
unreachable, and chat transcripts persist locally so conversations
survive the process.

Start with 'learnforge login'.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newProfileCmd(),
		newMissionsCmd(),
		newMissionCmd(),
		newChatCmd(),
	)
	return root
}

const version = "0.1.0"

// exactArgs is cobra.ExactArgs with the usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

// noArgs is cobra.NoArgs with the usage exit code attached.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err: err}
	}
	return nil
}
