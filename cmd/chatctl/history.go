package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-chat/internal/app"
	"github.com/yungbote/neurobridge-chat/internal/chat/receipts"
	"github.com/yungbote/neurobridge-chat/internal/chat/room"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

func init() {
	historyCmd.Flags().Int("pages", 1, "number of pages to load (0 loads everything)")
	historyCmd.Flags().Bool("mark-read", false, "acknowledge every printed message from the peer")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [room-id]",
	Short: "Print a room's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetInt("pages")
		markRead, _ := cmd.Flags().GetBool("mark-read")
		return withRoom(cmd, args[0], func(ctx context.Context, a *app.App, s *room.Session) error {
			for i := 1; (pages == 0 || i < pages) && s.HasMore(); i++ {
				if _, err := s.LoadMore(ctx); err != nil {
					return err
				}
			}
			msgs := s.Messages()
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), s.EmptyText())
				return nil
			}
			printMessages(cmd.OutOrStdout(), msgs, a.Identity.UserID, a.Cfg.Location())
			if markRead {
				for _, m := range msgs {
					s.Observe(m, 1)
				}
			}
			return nil
		})
	},
}

// printMessages writes msgs with a day header whenever the day changes.
func printMessages(w io.Writer, msgs []chat.Message, self string, loc *time.Location) {
	now := time.Now()
	day := ""
	for _, m := range msgs {
		if d := m.Day(loc); d != day {
			day = d
			fmt.Fprintf(w, "-- %s --\n", receipts.FormatDay(d, now, loc))
		}
		printMessage(w, m, self, loc)
	}
}

func printMessage(w io.Writer, m chat.Message, self string, loc *time.Location) {
	who := m.SenderUsername
	if who == "" {
		who = m.SenderID
	}
	if m.AuthoredBy(self) {
		who = "me"
	}
	status := ""
	switch {
	case m.Delivery == chat.DeliveryFailed:
		status = " [failed: " + m.SendErr + "]"
	case m.Pending():
		status = " [sending]"
	case m.AuthoredBy(self) && m.IsRead:
		status = " [read]"
	}
	if r := m.Reaction(); r != "" {
		status += " " + r
	}
	fmt.Fprintf(w, "%s %-12s %s%s (%s)\n",
		m.CreatedAt.In(loc).Format("15:04"), who, describe(m), status, humanize.Time(m.CreatedAt))
}

func describe(m chat.Message) string {
	switch c := m.Content.(type) {
	case chat.TextContent:
		return c.Text
	case chat.AttachmentContent:
		return fmt.Sprintf("<%s x%d>", c.Type, len(c.URLs))
	case chat.PostContent:
		return "<post " + c.PostID + ">"
	case chat.ProfileContent:
		return "<profile " + c.ProfileID + ">"
	default:
		return m.Body
	}
}
