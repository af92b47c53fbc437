package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-chat/internal/app"
	"github.com/yungbote/neurobridge-chat/internal/chat/room"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [room-id] [text...]",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return withRoom(cmd, args[0], func(ctx context.Context, a *app.App, s *room.Session) error {
			m, err := s.SendText(ctx, text)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), m, a.Identity.UserID, a.Cfg.Location())
			return nil
		})
	},
}
