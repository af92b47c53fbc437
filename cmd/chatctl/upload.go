package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-chat/internal/app"
	"github.com/yungbote/neurobridge-chat/internal/chat/room"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

func init() {
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload [room-id] [file...]",
	Short: "Upload files and send them as one attachment message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, closeAll, err := openFiles(args[1:])
		defer closeAll()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		progress := upload.NewProgress(func(name string, percent int) {
			fmt.Fprintf(out, "\r%s %3d%%", name, percent)
			if percent == 100 {
				fmt.Fprintln(out)
			}
		})
		return withRoom(cmd, args[0], func(ctx context.Context, a *app.App, s *room.Session) error {
			m, err := s.SendAttachments(ctx, files, progress)
			if err != nil {
				return err
			}
			printMessage(out, m, a.Identity.UserID, a.Cfg.Location())
			return nil
		})
	},
}

func openFiles(paths []string) ([]upload.File, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, closeAll, fmt.Errorf("open %s: %w", p, err)
		}
		opened = append(opened, f)
		st, err := f.Stat()
		if err != nil {
			return nil, closeAll, fmt.Errorf("stat %s: %w", p, err)
		}
		if st.IsDir() {
			return nil, closeAll, fmt.Errorf("%s is a directory", p)
		}
		fmt.Fprintf(os.Stderr, "%s (%s)\n", filepath.Base(p), humanize.IBytes(uint64(st.Size())))
		files = append(files, upload.File{
			Name:   filepath.Base(p),
			Size:   st.Size(),
			Reader: f,
		})
	}
	return files, closeAll, nil
}
