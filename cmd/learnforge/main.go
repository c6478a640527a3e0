// Learnforge - terminal client for the Learnforge learning platform.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	apperrors "github.com/RashikaKarki/learnforge-cli/internal/errors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))

	var usage usageError
	if errors.As(err, &usage) || apperrors.IsKind(err, apperrors.KindValidation) {
		os.Exit(2)
	}
	os.Exit(1)
}
