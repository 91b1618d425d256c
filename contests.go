package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rjsadow/contestgate/internal/auth"
	"github.com/rjsadow/contestgate/internal/importer"
)

func newContestCmd(flags *dbFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contest",
		Short: "Manage contests and participations",
	}
	cmd.AddCommand(newContestImportCmd(flags))
	cmd.AddCommand(newContestListCmd(flags))
	return cmd
}

func newContestImportCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import users, contests and participations from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to read input file: %w", err)
			}
			defer f.Close()

			doc, err := importer.Parse(f)
			if err != nil {
				return err
			}

			database, err := flags.open()
			if err != nil {
				return err
			}
			defer database.Close()

			s, err := importer.Import(cmd.Context(), database, doc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Import complete:\n")
			fmt.Fprintf(out, "  Users created:  %d\n", s.UsersCreated)
			fmt.Fprintf(out, "  Users existing: %d\n", s.UsersExisting)
			fmt.Fprintf(out, "  Contests:       %d\n", s.Contests)
			fmt.Fprintf(out, "  Participations: %d\n", s.Participations)
			return nil
		},
	}
}

func newContestListCmd(flags *dbFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contests and their login settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := flags.open()
			if err != nil {
				return err
			}
			defer database.Close()

			contests, err := database.ListContests(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPASSWORD\tIP RESTRICTION\tOPENID CONNECT")
			for _, c := range contests {
				oidc := "no"
				if c.OpenIDConnectInfo != "" {
					oidc = "invalid"
					if cfg, err := auth.ParseProviderConfig(c.OpenIDConnectInfo); err == nil {
						oidc = cfg.OPInfo.Issuer
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, yesNo(c.AllowPasswordAuthentication), yesNo(c.IPRestriction), oidc)
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
