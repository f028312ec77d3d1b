package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorgomez09/garagedesk/internal/auth/models"
	"github.com/victorgomez09/garagedesk/internal/auth/service"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func newBootstrapCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the initial admin account when no users exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if file == "" {
					file = a.cfg.Auth.BootstrapPasswordFile
				}
				created, err := a.auth.BootstrapAdmin(ctx, file)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintln(cmd.OutOrStdout(), "users already exist, nothing to do")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user admin, password written to %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "password-file", "", "where to write the generated password (default from config)")
	return cmd
}

func newUserCmd(opts *options) *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "Manage back-office accounts"}

	var in service.NewUser
	var role string
	var fromStdin bool
	createCmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				in.Username = args[0]
				in.Role = models.Role(role)
				generated := false
				if fromStdin {
					pw, err := readLine(cmd.InOrStdin())
					if err != nil {
						return err
					}
					in.Password = pw
				} else {
					pw, err := a.auth.GeneratePassword(in.Username)
					if err != nil {
						return err
					}
					in.Password, generated = pw, true
				}

				u, err := a.auth.CreateUser(ctx, nil, in, "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d, %s)\n", u.Username, u.ID, u.Role)
				if generated {
					fmt.Fprintf(cmd.OutOrStdout(), "password: %s\n", in.Password)
				}
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&in.Email, "email", "", "email address, used for password resets")
	createCmd.Flags().StringVar(&in.Name, "name", "", "display name")
	createCmd.Flags().StringVar(&role, "role", string(models.RoleStaff), "admin or staff")
	createCmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from stdin instead of generating one")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				users, err := a.auth.ListUsers(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tACTIVE\tLOCKED UNTIL\tLAST LOGIN")
				for _, u := range users {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n",
						u.ID, u.Username, u.Role, u.Active, timeOrDash(u.LockedUntil), timeOrDash(u.LastLogin))
				}
				return tw.Flush()
			})
		},
	}

	setRoleCmd := &cobra.Command{
		Use:   "set-role <username> <admin|staff>",
		Short: "Change an account's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, opts, args[0], func(ctx context.Context, a *app, u *models.User) error {
				return a.auth.SetRole(ctx, nil, u.ID, models.Role(strings.ToLower(args[1])), "")
			})
		},
	}

	setActiveCmd := &cobra.Command{
		Use:   "set-active <username> <true|false>",
		Short: "Enable or disable an account; disabling revokes its sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid active value %q", args[1])
			}
			return withUser(cmd, opts, args[0], func(ctx context.Context, a *app, u *models.User) error {
				return a.auth.SetActive(ctx, nil, u.ID, active, "")
			})
		},
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock <username>",
		Short: "Clear an account's lockout and failed login counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, opts, args[0], func(ctx context.Context, a *app, u *models.User) error {
				return a.auth.Unlock(ctx, nil, u.ID, "")
			})
		},
	}

	userCmd.AddCommand(createCmd, listCmd, setRoleCmd, setActiveCmd, unlockCmd)
	return userCmd
}

func newSessionCmd(opts *options) *cobra.Command {
	sessionCmd := &cobra.Command{Use: "session", Short: "Manage sign-in sessions"}
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired and idle sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.sessions.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale sessions\n", n)
				return nil
			})
		},
	})
	return sessionCmd
}

func withApp(cmd *cobra.Command, opts *options, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts, false)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, a), a.close(context.Background()))
}

// withUser resolves username and runs fn, then prints the account's state.
func withUser(cmd *cobra.Command, opts *options, username string, fn func(context.Context, *app, *models.User) error) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		u, err := a.db.GetUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("user %q: %w", username, err)
		}
		if err := fn(ctx, a, u); err != nil {
			return err
		}
		if u, err = a.auth.GetUserById(ctx, u.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: role=%s active=%t locked_until=%s\n",
			u.Username, u.Role, u.Active, timeOrDash(u.LockedUntil))
		return nil
	})
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password on stdin")
	}
	return line, nil
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
