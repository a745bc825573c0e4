package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codenotes/notesync"
	"github.com/codenotes/notesync/pkg/models"
)

func (a *app) topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List your topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(_ context.Context, s *notesync.Session) error {
				for _, t := range s.Tree().Topics() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, t.Name)
				}
				return nil
			})
		},
	}
}

func (a *app) addTopicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-topic NAME",
		Short: "Create a topic and print its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *notesync.Session) error {
				t, err := s.Tree().AddTopic(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.ID)
				return nil
			})
		},
	}
}

func (a *app) renameTopicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename-topic TOPIC NAME",
		Short: "Rename a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseTopicID(args[0])
			if err != nil {
				return fmt.Errorf("topic: %w", err)
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *notesync.Session) error {
				return s.Tree().RenameTopic(ctx, id, args[1])
			})
		},
	}
}

func (a *app) deleteTopicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-topic TOPIC",
		Short: "Delete a topic and every note in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseTopicID(args[0])
			if err != nil {
				return fmt.Errorf("topic: %w", err)
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *notesync.Session) error {
				return s.Tree().DeleteTopic(ctx, id)
			})
		},
	}
}
