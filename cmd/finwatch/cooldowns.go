package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/store"
)

// NewCooldownsCmd creates the cooldowns command group.
func NewCooldownsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cooldowns",
		Short: "Inspect and clear domain cooldowns",
		Long: `A domain that answers with a block page, 403 or 429 is left alone for the
configured cooldown. Cooldowns survive restarts.

Examples:
  finwatch cooldowns list
  finwatch cooldowns clear ir.acme.example
  finwatch cooldowns clear --all`,
	}

	cmd.AddCommand(newCooldownsListCmd())
	cmd.AddCommand(newCooldownsClearCmd())

	return cmd
}

func newCooldownsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List domains that are cooling down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.readReportFlags(cmd); err != nil {
				return err
			}
			return a.withStore(func(db *store.DB) error {
				cooldowns, err := db.LoadCooldowns(cmd.Context(), time.Now().UTC())
				if err != nil {
					return err
				}
				return a.writeWith(cmd, func(w report.Writer) error {
					_, err := w.WriteCooldowns(cooldowns)
					return err
				})
			})
		},
	}
	addReportFlags(cmd)
	return cmd
}

func newCooldownsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [domain...]",
		Short: "Remove cooldowns so the next run may contact the domains again",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}
			if all == (len(args) > 0) {
				return errors.New("specify one or more domains or --all")
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.withStore(func(db *store.DB) error {
				if all {
					n, err := db.DeleteAllCooldowns(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cooldown(s)\n", n)
					return nil
				}
				for _, domain := range args {
					ok, err := db.DeleteCooldown(cmd.Context(), domain)
					if err != nil {
						return err
					}
					if ok {
						fmt.Fprintf(cmd.OutOrStdout(), "Cleared cooldown of %s\n", domain)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "No cooldown for %s\n", domain)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("all", false, "Clear every cooldown")
	return cmd
}
