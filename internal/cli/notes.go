package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codenotes/notesync"
	"github.com/codenotes/notesync/pkg/models"
	"github.com/codenotes/notesync/pkg/tree"
)

func (a *app) notesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes TOPIC",
		Short: "Print the notes of a topic as an outline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTopic(cmd.Context(), args[0], func(_ context.Context, s *notesync.Session) error {
				printOutline(cmd.OutOrStdout(), s.Tree(), nil, 0)
				return nil
			})
		},
	}
}

func printOutline(w io.Writer, t *tree.Store, parent *models.NoteID, depth int) {
	for _, n := range t.SubNotes(parent) {
		fmt.Fprintf(w, "%s\t%s%s [%s]\n", n.ID, strings.Repeat("  ", depth), n.Title, n.Type)
		printOutline(w, t, n.ID.Ptr(), depth+1)
	}
}

func (a *app) addNoteCmd() *cobra.Command {
	var (
		typ      string
		parent   string
		language string
	)
	cmd := &cobra.Command{
		Use:   "add-note TOPIC TITLE",
		Short: "Create a note and print its ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nt, err := models.ParseNoteType(typ)
			if err != nil {
				return err
			}
			nn := tree.NewNote{Title: args[1], Type: nt, Language: language}
			if parent != "" {
				id, err := parseNoteID(parent)
				if err != nil {
					return err
				}
				nn.ParentID = id.Ptr()
			}
			return a.withTopic(cmd.Context(), args[0], func(ctx context.Context, s *notesync.Session) error {
				n, err := s.Tree().AddNote(ctx, nn)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(models.NoteTypeText), "note type: code, text or folder")
	cmd.Flags().StringVar(&parent, "parent", "", "ID of the parent note")
	cmd.Flags().StringVar(&language, "language", "", "language of a code note")
	return cmd
}

func (a *app) editNoteCmd() *cobra.Command {
	var title, content, language string
	cmd := &cobra.Command{
		Use:   "edit-note TOPIC NOTE",
		Short: "Change the title, content or language of a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNoteID(args[1])
			if err != nil {
				return err
			}
			var patch models.NotePatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("content") {
				patch.Content = &content
			}
			if cmd.Flags().Changed("language") {
				patch.Language = &language
			}
			if patch.IsEmpty() {
				return errors.New("nothing to change: pass --title, --content or --language")
			}
			return a.withTopic(cmd.Context(), args[0], func(ctx context.Context, s *notesync.Session) error {
				return s.Tree().UpdateNote(ctx, id, patch)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&content, "content", "", "new content")
	cmd.Flags().StringVar(&language, "language", "", "new language")
	return cmd
}

func (a *app) moveCmd() *cobra.Command {
	var (
		into   string
		root   bool
		before string
		last   bool
	)
	cmd := &cobra.Command{
		Use:   "move TOPIC NOTE",
		Short: "Move a note under another note, to the top level, or among its siblings",
		Long: `Exactly one of the flags is required:

  --into NOTE    make NOTE the new parent
  --root         move to the top level of the topic
  --before NOTE  reorder so the note sits right before its sibling NOTE
  --last         reorder so the note is the last of its siblings`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNoteID(args[1])
			if err != nil {
				return err
			}
			var ref *models.NoteID
			for _, s := range []string{into, before} {
				if s == "" {
					continue
				}
				target, err := parseNoteID(s)
				if err != nil {
					return err
				}
				ref = target.Ptr()
			}
			reorder := before != "" || last

			return a.withTopic(cmd.Context(), args[0], func(ctx context.Context, s *notesync.Session) error {
				if reorder {
					return s.Tree().MoveBefore(ctx, id, ref)
				}
				d := tree.NewDropTarget(s.Tree())
				if err := d.BeginDrag(id); err != nil {
					return err
				}
				if !d.Hover(ref) {
					d.Cancel()
					if *ref == id {
						return nil
					}
					return fmt.Errorf("move %s into %s: %w", id, ref, tree.ErrCycle)
				}
				return d.Drop(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "new parent note")
	cmd.Flags().BoolVar(&root, "root", false, "move to the top level")
	cmd.Flags().StringVar(&before, "before", "", "sibling to move in front of")
	cmd.Flags().BoolVar(&last, "last", false, "move behind every sibling")
	cmd.MarkFlagsMutuallyExclusive("into", "root", "before", "last")
	cmd.MarkFlagsOneRequired("into", "root", "before", "last")
	return cmd
}

func (a *app) deleteNoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-note TOPIC NOTE",
		Short: "Delete a note and everything below it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNoteID(args[1])
			if err != nil {
				return err
			}
			return a.withTopic(cmd.Context(), args[0], func(ctx context.Context, s *notesync.Session) error {
				return s.Tree().DeleteNote(ctx, id)
			})
		},
	}
}
