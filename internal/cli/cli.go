// Package cli implements the notesync command line.
//
// Every command opens a session, waits for the cached tree and the first
// remote snapshot, performs one operation, waits until the write reached
// the remote store or the replay queue, and closes the session again.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codenotes/notesync"
	"github.com/codenotes/notesync/pkg/config"
	"github.com/codenotes/notesync/pkg/models"
)

// app carries the persistent flags and the options every session is opened
// with.
type app struct {
	configPath string
	offline    bool
	user       string

	opts []notesync.Option
	cfg  config.Config
}

// Main runs the command line with args.
func Main(ctx context.Context, args []string) error {
	cmd := NewCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewCommand builds the root command. opts are passed to every session the
// commands open.
func NewCommand(opts ...notesync.Option) *cobra.Command {
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "notesync",
		Short: "Work with your synced notes from the terminal",
		Long: `notesync edits the topics and notes of one user. Changes are written to the
local cache first and reach the remote store right away, or on the next
"notesync sync" when it cannot be reached.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "path to the YAML config file")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "do not contact the remote store; queue every write")
	root.PersistentFlags().StringVar(&a.user, "user", "", "user ID to act as (overrides the config owner)")

	root.AddCommand(
		a.topicsCmd(),
		a.addTopicCmd(),
		a.renameTopicCmd(),
		a.deleteTopicCmd(),
		a.notesCmd(),
		a.addNoteCmd(),
		a.editNoteCmd(),
		a.moveCmd(),
		a.deleteNoteCmd(),
		a.queueCmd(),
		a.syncCmd(),
	)
	return root
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "notesync.yaml"
	}
	return filepath.Join(dir, "notesync", "config.yaml")
}

func (a *app) config() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if a.user != "" {
		cfg.Owner = a.user
		err = cfg.Validate()
	}
	if err != nil {
		return cfg, err
	}
	if a.offline {
		cfg.Remote.Offline = true
	}
	return cfg, nil
}

// withSession opens a session, waits for the tree, runs fn and waits for
// fn's writes before closing.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, s *notesync.Session) error) (err error) {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	a.cfg = cfg
	s, err := notesync.Open(ctx, cfg, a.opts...)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	if err := waitLoaded(ctx, s, cfg); err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		return err
	}
	return s.Tree().WaitIdle(ctx)
}

func waitLoaded(ctx context.Context, s *notesync.Session, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Sync.RemoteTimeout)
	defer cancel()
	if err := s.Tree().WaitLoaded(ctx); err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	return nil
}

// withTopic is withSession with topic made active and its notes loaded.
func (a *app) withTopic(ctx context.Context, topic string, fn func(ctx context.Context, s *notesync.Session) error) error {
	id, err := models.ParseTopicID(topic)
	if err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	return a.withSession(ctx, func(ctx context.Context, s *notesync.Session) error {
		if err := s.Tree().SetActiveTopic(ctx, id); err != nil {
			return err
		}
		if err := waitLoaded(ctx, s, a.cfg); err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

func parseNoteID(s string) (models.NoteID, error) {
	id, err := models.ParseNoteID(s)
	if err != nil {
		return id, fmt.Errorf("note: %w", err)
	}
	return id, nil
}
