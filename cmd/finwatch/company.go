package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/store"
)

// NewCompanyCmd creates the company command group.
func NewCompanyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Manage tracked companies",
		Long: `Company adds, lists and updates the companies finwatch monitors.

Examples:
  finwatch company add "Acme Corp" https://investors.acme.example --depth 2
  finwatch company list
  finwatch company disable 3
  finwatch company sync`,
	}

	cmd.AddCommand(newCompanyAddCmd())
	cmd.AddCommand(newCompanyListCmd())
	cmd.AddCommand(newCompanyUpdateCmd())
	cmd.AddCommand(newCompanyToggleCmd("enable", "Resume monitoring of companies", true))
	cmd.AddCommand(newCompanyToggleCmd("disable", "Stop monitoring companies; their history is kept", false))
	cmd.AddCommand(newCompanySyncCmd())

	return cmd
}

func newCompanyAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <website-url>",
		Short: "Track a new company",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			depth, err := cmd.Flags().GetInt("depth")
			if err != nil {
				return err
			}
			inactive, err := cmd.Flags().GetBool("inactive")
			if err != nil {
				return err
			}

			c := &model.Company{Name: args[0], WebsiteURL: args[1], CrawlDepth: depth, Active: !inactive}
			return a.withStore(func(db *store.DB) error {
				existing, err := db.FindCompanyByURL(cmd.Context(), c.WebsiteURL)
				if err != nil {
					return err
				}
				if existing != nil {
					return fmt.Errorf("%s is already tracked as company %d", c.WebsiteURL, existing.ID)
				}
				if err := db.CreateCompany(cmd.Context(), c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added company %d: %s\n", c.ID, c.Name)
				return nil
			})
		},
	}
	cmd.Flags().IntP("depth", "d", 1, "Link depth crawled below the website URL")
	cmd.Flags().Bool("inactive", false, "Add the company without monitoring it")
	return cmd
}

func newCompanyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked companies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.readReportFlags(cmd); err != nil {
				return err
			}
			activeOnly, err := cmd.Flags().GetBool("active")
			if err != nil {
				return err
			}
			return a.withStore(func(db *store.DB) error {
				companies, err := db.ListCompanies(cmd.Context(), activeOnly)
				if err != nil {
					return err
				}
				return a.writeWith(cmd, func(w report.Writer) error {
					_, err := w.WriteCompanies(companies)
					return err
				})
			})
		},
	}
	addReportFlags(cmd)
	cmd.Flags().Bool("active", false, "Only list active companies")
	return cmd
}

func newCompanyUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <company-id>",
		Short: "Change name, website or crawl depth of a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseCompanyIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.withStore(func(db *store.DB) error {
				c, err := getCompany(cmd.Context(), db, ids[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					c.Name, _ = cmd.Flags().GetString("name") //nolint:errcheck // Flag is registered below
				}
				if cmd.Flags().Changed("website") {
					c.WebsiteURL, _ = cmd.Flags().GetString("website") //nolint:errcheck // Flag is registered below
				}
				if cmd.Flags().Changed("depth") {
					c.CrawlDepth, _ = cmd.Flags().GetInt("depth") //nolint:errcheck // Flag is registered below
				}
				if err := db.UpdateCompany(cmd.Context(), c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated company %d: %s\n", c.ID, c.Name)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "New company name")
	cmd.Flags().String("website", "", "New website URL")
	cmd.Flags().IntP("depth", "d", 0, "New crawl depth")
	return cmd
}

func newCompanyToggleCmd(verb, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <company-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseCompanyIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.withStore(func(db *store.DB) error {
				for _, id := range ids {
					if err := db.SetCompanyActive(cmd.Context(), id, active); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Company %d %sd\n", id, verb)
				}
				return nil
			})
		},
	}
}

func newCompanySyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Register the companies listed in the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if a.file == nil {
				return errors.New("no configuration file found (create one with: finwatch init)")
			}
			return a.withStore(func(db *store.DB) error {
				created, updated, err := a.syncCompanies(cmd.Context(), db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Companies synced from %s: %d created, %d updated\n",
					a.cfg.ConfigFilePath, created, updated)
				return nil
			})
		},
	}
}

// getCompany loads a company and fails when it does not exist.
func getCompany(ctx context.Context, db *store.DB, id int64) (*model.Company, error) {
	c, err := db.GetCompany(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrCompanyNotFound, id)
	}
	return c, nil
}
