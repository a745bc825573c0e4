package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codenotes/notesync"
	"github.com/codenotes/notesync/pkg/remote"
)

func (a *app) queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List writes waiting to reach the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Listing must not replay anything.
			a.offline = true
			return a.withSession(cmd.Context(), func(ctx context.Context, s *notesync.Session) error {
				queued, err := s.Queue().Queued(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tACTION\tTARGET\tPATH\tATTEMPTS\tLAST ERROR")
				for _, m := range queued {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
						m.ID, m.Action, m.Target, remote.MutationPath(s.Owner(), m), m.Attempts, m.LastError)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes against the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.offline {
				return fmt.Errorf("sync: %w", remote.ErrUnavailable)
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *notesync.Session) error {
				if err := s.Online(ctx); err != nil {
					return err
				}
				res, err := s.Queue().Drain(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d, dropped %d, remaining %d\n", res.Applied, res.Dropped, res.Remaining)
				return err
			})
		},
	}
}
