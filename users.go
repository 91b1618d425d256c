package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/passwd"
)

func newUserCmd(flags *dbFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserAddCmd(flags))
	cmd.AddCommand(newUserPasswdCmd(flags))
	return cmd
}

func newUserAddCmd(flags *dbFlags) *cobra.Command {
	var (
		u       db.User
		pass    string
		method  string
		contest string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := passwd.Build(method, pass)
			if err != nil {
				return err
			}
			u.Password = encoded
			u.AuthSource = db.AuthSourceLocal

			database, err := flags.open()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx := cmd.Context()
			user, err := database.CreateUser(ctx, u)
			if err != nil {
				return fmt.Errorf("create user %s: %w", u.Username, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", user.Username, user.ID)

			if contest == "" {
				return nil
			}
			c, err := database.GetContestByName(ctx, contest)
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("contest %s: %w", contest, db.ErrNotFound)
			}
			if _, _, err := database.EnsureParticipation(ctx, c.ID, user.ID); err != nil {
				return fmt.Errorf("enroll %s in %s: %w", user.Username, c.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s in contest %s\n", user.Username, c.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&u.Username, "username", "", "Username")
	cmd.Flags().StringVar(&u.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&u.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&u.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&pass, "password", "", "Password")
	cmd.Flags().StringVar(&method, "method", passwd.MethodBcrypt, "Password storage method: bcrypt or plaintext")
	cmd.Flags().StringVar(&contest, "contest", "", "Also enroll the user in this contest")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserPasswdCmd(flags *dbFlags) *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "passwd <username> <password>",
		Short: "Replace the password of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := passwd.Build(method, args[1])
			if err != nil {
				return err
			}
			database, err := flags.open()
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.SetUserPassword(cmd.Context(), args[0], encoded); err != nil {
				return fmt.Errorf("set password for %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", passwd.MethodBcrypt, "Password storage method: bcrypt or plaintext")
	return cmd
}
