package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/retry"
	"github.com/nao1215/finwatch/internal/store"
)

// NewRetriesCmd creates the retries command group.
func NewRetriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retries",
		Short: "Inspect and manage the retry ledger",
		Long: `Retries shows documents whose download failed or was deferred, and lets
you schedule or close them by hand.

A PENDING record is replayed by the next run once its next retry time has
passed. It becomes DEAD after the configured number of failures and
RESOLVED when a download succeeds.

Examples:
  finwatch retries list --status PENDING
  finwatch retries retry-now 12
  finwatch retries resolve 12 13
  finwatch retries update 12 --status PENDING --retry-in 2h`,
	}

	cmd.AddCommand(newRetriesListCmd())
	cmd.AddCommand(newRetriesRetryNowCmd())
	cmd.AddCommand(newRetriesResolveCmd())
	cmd.AddCommand(newRetriesUpdateCmd())

	return cmd
}

// parseIDs converts positional arguments into record ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newRetriesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retry records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.readReportFlags(cmd); err != nil {
				return err
			}

			var f store.RetryFilter
			if f.CompanyID, err = cmd.Flags().GetInt64("company"); err != nil {
				return err
			}
			if f.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
				return err
			}
			status, err := cmd.Flags().GetString("status")
			if err != nil {
				return err
			}
			if status != "" {
				f.Status = model.RetryStatus(strings.ToUpper(status))
				if !f.Status.Valid() {
					return fmt.Errorf("%w: %q", retry.ErrInvalidStatus, status)
				}
			}

			return a.withStore(func(db *store.DB) error {
				records, err := newLedger(a.cfg, db, a.logger, nil).List(cmd.Context(), f)
				if err != nil {
					return err
				}
				return a.writeWith(cmd, func(w report.Writer) error {
					_, err := w.WriteRetries(records)
					return err
				})
			})
		},
	}
	addReportFlags(cmd)
	cmd.Flags().Int64("company", 0, "Only list records of this company")
	cmd.Flags().String("status", "", "Only list records with this status (PENDING, DEAD, RESOLVED)")
	cmd.Flags().Int("limit", 100, "Maximum number of records")
	return cmd
}

// newRetriesActionCmd builds a command that applies fn to every id.
func newRetriesActionCmd(use, short, done string, fn func(cmd *cobra.Command, l *retry.Ledger, id int64) (*model.RetryRecord, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <retry-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.withStore(func(db *store.DB) error {
				ledger := newLedger(a.cfg, db, a.logger, nil)
				for _, id := range ids {
					rec, err := fn(cmd, ledger, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Retry %d %s: %s (%s)\n", rec.ID, done, rec.DocumentURL, rec.Status)
				}
				return nil
			})
		},
	}
}

func newRetriesRetryNowCmd() *cobra.Command {
	return newRetriesActionCmd("retry-now", "Make records due on the next run", "scheduled",
		func(cmd *cobra.Command, l *retry.Ledger, id int64) (*model.RetryRecord, error) {
			return l.RetryNow(cmd.Context(), id)
		})
}

func newRetriesResolveCmd() *cobra.Command {
	return newRetriesActionCmd("resolve", "Close records without retrying them", "resolved",
		func(cmd *cobra.Command, l *retry.Ledger, id int64) (*model.RetryRecord, error) {
			return l.Resolve(cmd.Context(), id)
		})
}

func newRetriesUpdateCmd() *cobra.Command {
	cmd := newRetriesActionCmd("update", "Set status, delay or reason of records", "updated",
		func(cmd *cobra.Command, l *retry.Ledger, id int64) (*model.RetryRecord, error) {
			u, err := readUpdateFlags(cmd)
			if err != nil {
				return nil, err
			}
			return l.Update(cmd.Context(), id, u)
		})
	cmd.Flags().String("status", string(model.RetryPending), "New status (PENDING, DEAD, RESOLVED)")
	cmd.Flags().Duration("retry-in", 0, "Delay before the next attempt of a PENDING record")
	cmd.Flags().String("reason", "", "Replace the failure reason code")
	cmd.Flags().String("note", "", "Replace the last error text")
	return cmd
}

func readUpdateFlags(cmd *cobra.Command) (retry.Update, error) {
	var u retry.Update
	status, err := cmd.Flags().GetString("status")
	if err != nil {
		return u, err
	}
	reason, err := cmd.Flags().GetString("reason")
	if err != nil {
		return u, err
	}
	if u.RetryIn, err = cmd.Flags().GetDuration("retry-in"); err != nil {
		return u, err
	}
	if u.LastError, err = cmd.Flags().GetString("note"); err != nil {
		return u, err
	}
	u.Status = model.RetryStatus(strings.ToUpper(status))
	u.Reason = model.ReasonCode(strings.ToUpper(reason))
	return u, nil
}
