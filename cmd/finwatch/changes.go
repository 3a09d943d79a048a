package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/store"
)

// NewChangesCmd creates the changes command.
func NewChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes [company-id]",
		Short: "Show the document and page change log",
		Long: `Changes lists detected document changes (NEW, UPDATED) and page changes
(PAGE_ADDED, PAGE_CHANGED, PAGE_DELETED, NEW_DOC_LINKED), newest first.

Examples:
  # Latest changes of all companies
  finwatch changes

  # Changes of company 3 as Markdown
  finwatch changes 3 --markdown -o changes.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChangesCmd,
	}
	addReportFlags(cmd)
	cmd.Flags().IntP("limit", "n", 50, "Maximum entries per change log")
	return cmd
}

func runChangesCmd(cmd *cobra.Command, args []string) error {
	var companyID int64
	if len(args) == 1 {
		ids, err := parseCompanyIDs(args)
		if err != nil {
			return err
		}
		companyID = ids[0]
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.readReportFlags(cmd); err != nil {
		return err
	}

	return a.withStore(func(db *store.DB) error {
		ctx := cmd.Context()
		if companyID != 0 {
			if _, err := getCompany(ctx, db, companyID); err != nil {
				return err
			}
		}
		docs, err := db.ListDocumentChanges(ctx, companyID, limit)
		if err != nil {
			return err
		}
		pages, err := db.ListPageChanges(ctx, companyID, limit)
		if err != nil {
			return err
		}
		rep := &report.ChangeReport{GeneratedAt: time.Now().UTC(), Documents: docs, Pages: pages}
		return a.writeWith(cmd, func(w report.Writer) error {
			_, err := w.WriteChanges(rep)
			return err
		})
	})
}
