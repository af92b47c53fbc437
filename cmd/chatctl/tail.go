package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-chat/internal/app"
	"github.com/yungbote/neurobridge-chat/internal/chat/room"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

func init() {
	tailCmd.Flags().Duration("interval", time.Second, "how often to redraw new messages")
	tailCmd.Flags().Duration("refresh", 30*time.Second, "how often to refetch the room's block status (0 disables)")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [room-id]",
	Short: "Follow a room and print messages as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = time.Second
		}
		refresh, _ := cmd.Flags().GetDuration("refresh")
		return withRoom(cmd, args[0], func(ctx context.Context, a *app.App, s *room.Session) error {
			out := cmd.OutOrStdout()
			loc := a.Cfg.Location()
			seen := map[string]chat.Message{}
			emit := func() {
				for _, m := range s.Messages() {
					prev, ok := seen[m.Key()]
					if ok && prev.IsRead == m.IsRead && prev.Reaction() == m.Reaction() {
						continue
					}
					seen[m.Key()] = m
					printMessage(out, m, a.Identity.UserID, loc)
					s.Observe(m, 1)
				}
			}
			emit()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			var refreshC <-chan time.Time
			if refresh > 0 {
				rt := time.NewTicker(refresh)
				defer rt.Stop()
				refreshC = rt.C
			}
			canSend := s.CanSend()
			for {
				select {
				case <-ctx.Done():
					return nil
				case n, ok := <-s.Notices():
					if !ok {
						return nil
					}
					fmt.Fprintf(out, "** room %s: %s by %s\n", n.RoomID, n.Kind, n.By)
				case <-ticker.C:
					emit()
				case <-refreshC:
					if err := s.Refresh(ctx); err != nil {
						a.Log.Warn("room refresh failed", "room_id", s.RoomID(), "error", err)
						continue
					}
					if now := s.CanSend(); now != canSend {
						canSend = now
						fmt.Fprintf(out, "** room %s: sending %s\n", s.RoomID(), enabledLabel(now))
					}
				}
			}
		})
	},
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
