package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"groupdrive/internal/domain"
	"groupdrive/internal/service"
)

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, _ := cmd.Flags().GetString("first-name")
		last, _ := cmd.Flags().GetString("last-name")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.resolver.Register(ctx, args[0], first, last)
			if err != nil {
				return err
			}
			fmt.Printf("User %s created: %s\n", user.Email, user.ID)
			return nil
		})
	},
}

// admin command
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Grant or revoke administrator rights",
}

var adminGrantCmd = &cobra.Command{
	Use:   "grant <user-id>",
	Short: "Make a user an administrator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.resolver.GrantAdmin(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("User %s is now an administrator\n", args[0])
			return nil
		})
	},
}

var adminRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Revoke administrator rights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.resolver.RevokeAdmin(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("User %s is no longer an administrator\n", args[0])
			return nil
		})
	},
}

// group command
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups and their members",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group with its folder under groups/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			group, err := a.groups.CreateGroup(ctx, me, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Group %s created (id %d)\n", group.Name, group.ID)
			return nil
		})
	},
}

var groupAddMemberCmd = &cobra.Command{
	Use:   "add-member <group> <user-id>",
	Short: "Add a user to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			return a.groups.AddMember(ctx, me, args[0], args[1])
		})
	},
}

var groupRemoveMemberCmd = &cobra.Command{
	Use:   "remove-member <group> <user-id>",
	Short: "Remove a user from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			return a.groups.RemoveMember(ctx, me, args[0], args[1])
		})
	},
}

var groupMembersCmd = &cobra.Command{
	Use:   "members <group>",
	Short: "List the members of a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			ids, err := a.groups.Members(ctx, me, args[0])
			if err != nil {
				return err
			}
			users, err := a.resolver.UsersByIDs(ctx, ids)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%s  %s\n", u.ID, u.Email)
			}
			return nil
		})
	},
}

// acl command
var aclCmd = &cobra.Command{
	Use:   "acl",
	Short: "Manage per-path access overrides",
}

var aclSetCmd = &cobra.Command{
	Use:   "set <path> <mode>",
	Short: "Set the access mode of a user or group on a path (mode: READ|CREATE|WRITE|DELETE, ALL or NONE)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, subject, err := aclTarget(cmd)
		if err != nil {
			return err
		}
		mode, ok := domain.ParseAccessMode(args[1])
		if !ok {
			return fmt.Errorf("invalid access mode %q", args[1])
		}
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			row, err := a.perms.SetOverride(ctx, me, kind, args[0], subject, mode)
			if err != nil {
				return err
			}
			fmt.Printf("%s on %s: %s\n", subject, row.Path, row.Mode)
			return nil
		})
	},
}

var aclClearCmd = &cobra.Command{
	Use:   "clear <path>",
	Short: "Remove the access override of a user or group on a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, subject, err := aclTarget(cmd)
		if err != nil {
			return err
		}
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			return a.perms.ClearOverride(ctx, me, kind, args[0], subject)
		})
	},
}

var aclCheckCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Show the effective access of the acting user on a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			mode, err := a.perms.EffectiveAccess(ctx, me, args[0])
			if err != nil {
				return err
			}
			fmt.Println(mode)
			return nil
		})
	},
}

func aclTarget(cmd *cobra.Command) (domain.MetadataKind, service.Subject, error) {
	userID, _ := cmd.Flags().GetString("user")
	group, _ := cmd.Flags().GetString("group")
	dir, _ := cmd.Flags().GetBool("dir")

	kind := domain.KindFile
	if dir {
		kind = domain.KindDirectory
	}
	if (userID == "") == (group == "") {
		return "", service.Subject{}, fmt.Errorf("exactly one of --user or --group is required")
	}
	return kind, service.Subject{UserID: userID, GroupName: group}, nil
}

// file commands
var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			listing, err := a.catalog.List(ctx, me, dir)
			if err != nil {
				return err
			}
			printListing(listing)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query> [base]",
	Short: "Find files and folders whose name contains query",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := ""
		if len(args) == 2 {
			base = args[1]
		}
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			listing, err := a.catalog.Search(ctx, me, args[0], base)
			if err != nil {
				return err
			}
			printListing(listing)
			return nil
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> [dir]",
	Short: "Upload a local file into a folder",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 2 {
			dir = args[1]
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[0])
		}
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			info, err := a.files.Upload(ctx, me, dir, f, name)
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %s (%s)\n", info.FullPath, info.ReadableSize)
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <parent> <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			info, err := a.folders.CreateFolder(ctx, me, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Created %s/\n", info.FullPath)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Move a file or the contents of a folder to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			result, err := a.trash.Delete(ctx, me, args[0])
			if err != nil {
				return err
			}
			for _, d := range result.Deleted {
				fmt.Printf("deleted  %s (v%d, id %s)\n", d.OriginalPath, d.Version, d.ID)
			}
			for _, dir := range result.RemovedFolders {
				fmt.Printf("removed  %s/\n", dir)
			}
			for _, p := range result.Skipped {
				fmt.Printf("skipped  %s\n", p)
			}
			return nil
		})
	},
}

// trash command
var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and manage deleted files",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deleted files visible to the acting user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			items, err := a.trash.ListDeleted(ctx, me)
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("%s  v%-3d %s  deleted %s  expires %s\n",
					item.ID, item.Version, item.OriginalPath,
					item.DeletedAt.Format(time.RFC3339), item.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a deleted file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			result, err := a.trash.Restore(ctx, me, id)
			if err != nil {
				return err
			}
			fmt.Printf("Restored to %s\n", result.Path)
			return nil
		})
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Permanently delete a file from the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			return a.trash.Purge(ctx, me, id)
		})
	},
}

var trashCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge every deleted file whose retention period has expired",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			purged, err := a.trash.AutoCleanup(ctx)
			fmt.Printf("Purged %d file(s)\n", purged)
			return err
		})
	},
}

var trashSettingsCmd = &cobra.Command{
	Use:   "settings [user-id]",
	Short: "Show or change the trash retention period",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, _ := cmd.Flags().GetString("retention")
		return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
			owner := me.ID
			if len(args) == 1 {
				owner = args[0]
			}
			var (
				settings *domain.TrashSettings
				err      error
			)
			if retention != "" {
				settings, err = a.trash.UpdateRetentionPeriod(ctx, me, owner, retention)
			} else {
				settings, err = a.trash.GetSettings(ctx, owner)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Retention for %s: %s\n", settings.OwnerID, settings.RetentionPeriod())
			return nil
		})
	},
}

// trash archive command
var trashArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Work with archived copies of expired trash items",
}

var trashArchiveFetchCmd = &cobra.Command{
	Use:   "fetch <shadow-path>",
	Short: "Download the archived copy of an expired trash item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identityFile, _ := cmd.Flags().GetString("identity")
		out, _ := cmd.Flags().GetString("out")
		var identities []age.Identity
		if identityFile != "" {
			f, err := os.Open(identityFile)
			if err != nil {
				return fmt.Errorf("opening identity file: %w", err)
			}
			identities, err = age.ParseIdentities(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("parsing identity file: %w", err)
			}
		}
		return withArchive(cmd, func(ctx context.Context, a *app) error {
			data, err := a.archiver.Fetch(ctx, args[0], identities...)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", len(data), out)
			return nil
		})
	},
}

var trashArchiveRemoveCmd = &cobra.Command{
	Use:   "remove <shadow-path>",
	Short: "Delete the archived copy of an expired trash item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(cmd, func(ctx context.Context, a *app) error {
			if err := a.archiver.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Archived copy of %s removed\n", args[0])
			return nil
		})
	},
}

func init() {
	userAddCmd.Flags().String("first-name", "", "first name")
	userAddCmd.Flags().String("last-name", "", "last name")
	userCmd.AddCommand(userAddCmd)

	adminCmd.AddCommand(adminGrantCmd, adminRevokeCmd)
	groupCmd.AddCommand(groupCreateCmd, groupAddMemberCmd, groupRemoveMemberCmd, groupMembersCmd)

	for _, c := range []*cobra.Command{aclSetCmd, aclClearCmd} {
		c.Flags().String("user", "", "user id the override applies to")
		c.Flags().String("group", "", "group name the override applies to")
		c.Flags().Bool("dir", false, "the path is a directory")
	}
	aclCmd.AddCommand(aclSetCmd, aclClearCmd, aclCheckCmd)

	uploadCmd.Flags().String("name", "", "name to store the file under (defaults to the local file name)")
	trashSettingsCmd.Flags().String("retention", "", "new retention period, e.g. 720h")
	trashArchiveFetchCmd.Flags().String("identity", "", "age identity file for encrypted archives")
	trashArchiveFetchCmd.Flags().String("out", "-", "output file, - for stdout")
	trashArchiveCmd.AddCommand(trashArchiveFetchCmd, trashArchiveRemoveCmd)
	trashCmd.AddCommand(trashListCmd, trashRestoreCmd, trashPurgeCmd, trashCleanupCmd, trashSettingsCmd, trashArchiveCmd)

	rootCmd.AddCommand(userCmd, adminCmd, groupCmd, aclCmd, lsCmd, searchCmd, uploadCmd, mkdirCmd, rmCmd, trashCmd)
}

// withPrincipal запускает fn от имени пользователя из --as
func withPrincipal(cmd *cobra.Command, fn func(ctx context.Context, a *app, me domain.CurrentUser) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		me, err := a.principal(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, a, me)
	})
}

// withArchive запускает fn от имени администратора при включённом архиве
func withArchive(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return withPrincipal(cmd, func(ctx context.Context, a *app, me domain.CurrentUser) error {
		if !me.IsAdmin {
			return fmt.Errorf("%w: only administrators read the archive", domain.ErrForbidden)
		}
		if a.archiver == nil {
			return fmt.Errorf("archive is disabled in the configuration")
		}
		return fn(ctx, a)
	})
}

func printListing(l *domain.Listing) {
	for _, f := range l.Folders {
		fmt.Printf("%-40s  %10s  %4d items  %s\n", f.FullPath+"/", f.ReadableSize, f.ItemCount, f.LastModified.Format(time.RFC3339))
	}
	for _, f := range l.Files {
		fmt.Printf("%-40s  %10s  %s\n", f.FullPath, f.ReadableSize, f.LastModified.Format(time.RFC3339))
	}
}
