package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/storage"
	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage database snapshots",
		Long: `Create, list and delete database snapshots.

Snapshots save the current state of your database before risky changes such
as a large import or a migration.`,
		Example: `  # Snapshot before importing a year of statements
  recur snapshot create --tag pre-2024-import

  # List all snapshots
  recur snapshot list

  # Delete an old snapshot
  recur snapshot delete pre-2024-import`,
	}

	cmd.AddCommand(createSnapshotCmd())
	cmd.AddCommand(listSnapshotsCmd())
	cmd.AddCommand(deleteSnapshotCmd())

	return cmd
}

func openSnapshots(cmd *cobra.Command) (*storage.SnapshotManager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	manager, err := store.NewSnapshotManager()
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to create snapshot manager: %w", err)
	}
	return manager, func() { _ = store.Close() }, nil
}

func createSnapshotCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, done, err := openSnapshots(cmd)
			if err != nil {
				return err
			}
			defer done()

			info, err := manager.Create(cmd.Context(), tag, description)
			if err != nil {
				if errors.Is(err, storage.ErrSnapshotExists) {
					return common.NewUserError(fmt.Sprintf("snapshot %q already exists", tag), err)
				}
				return fmt.Errorf("failed to create snapshot: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Created snapshot %s (%s)\n",
				cli.SuccessStyle.Render("✓"),
				cli.InfoStyle.Render(info.ID),
				formatFileSize(info.FileSize))
			if info.Description != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  Description: %s\n", info.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "snapshot tag (generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description of the snapshot")

	return cmd
}

func listSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, done, err := openSnapshots(cmd)
			if err != nil {
				return err
			}
			defer done()

			snapshots, err := manager.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list snapshots: %w", err)
			}

			w := cmd.OutOrStdout()
			if len(snapshots) == 0 {
				fmt.Fprintln(w, cli.SubtitleStyle.Render("No snapshots found."))
				return nil
			}

			rows := make([][]string, 0, len(snapshots))
			for _, s := range snapshots {
				kind := "manual"
				if s.IsAuto {
					kind = "auto"
				}
				rows = append(rows, []string{
					s.ID,
					formatRelativeTime(s.CreatedAt),
					formatFileSize(s.FileSize),
					fmt.Sprintf("v%d", s.SchemaVersion),
					kind,
					s.Description,
				})
			}
			fmt.Fprintln(w, cli.RenderTable([]string{"ID", "Created", "Size", "Schema", "Kind", "Description"}, rows))
			return nil
		},
	}
}

func deleteSnapshotCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			w := cmd.OutOrStdout()

			manager, done, err := openSnapshots(cmd)
			if err != nil {
				return err
			}
			defer done()

			if !force {
				prompter := cli.NewPrompter(cmd.InOrStdin(), w)
				ok, err := prompter.Confirm(ctx, fmt.Sprintf("%s Permanently delete snapshot %s?",
					cli.WarningStyle.Render("⚠️"), cli.InfoStyle.Render(id)))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(w, cli.SubtitleStyle.Render("Deletion cancelled."))
					return nil
				}
			}

			if err := manager.Delete(ctx, id); err != nil {
				if errors.Is(err, storage.ErrSnapshotNotFound) {
					return common.NewUserError(fmt.Sprintf("snapshot %q not found", id), err)
				}
				return fmt.Errorf("failed to delete snapshot: %w", err)
			}

			fmt.Fprintf(w, "%s Deleted snapshot %s\n", cli.SuccessStyle.Render("✓"), cli.InfoStyle.Render(id))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")

	return cmd
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		if m := int(d.Minutes()); m != 1 {
			return fmt.Sprintf("%d minutes ago", m)
		}
		return "1 minute ago"
	case d < 24*time.Hour:
		if h := int(d.Hours()); h != 1 {
			return fmt.Sprintf("%d hours ago", h)
		}
		return "1 hour ago"
	case d < 7*24*time.Hour:
		if days := int(d.Hours() / 24); days != 1 {
			return fmt.Sprintf("%d days ago", days)
		}
		return "yesterday"
	default:
		return t.Format("2006-01-02 15:04")
	}
}
