package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-chat/internal/app"
	"github.com/yungbote/neurobridge-chat/internal/chat/room"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Private messaging client",
	Long: `chatctl opens a one-to-one chat room against the chat backend, reads
its history, follows live pushes, and sends text or attachments.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
}

// withRoom builds the app, opens roomID and runs fn against the session.
func withRoom(cmd *cobra.Command, roomID string, fn func(ctx context.Context, a *app.App, s *room.Session) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath, _ := cmd.Flags().GetString("config")
	a, err := app.New(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start()

	r, err := a.Clients.API.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room %s: %w", roomID, err)
	}
	s, err := a.Rooms.Open(ctx, r)
	if err != nil {
		return err
	}
	return fn(ctx, a, s)
}
