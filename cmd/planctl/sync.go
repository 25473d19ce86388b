package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

var (
	// sync command flags
	syncUser       string
	syncOutputJSON bool
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncApplyCmd)
	syncCmd.AddCommand(syncDiscardCmd)

	syncCmd.PersistentFlags().BoolVar(&syncOutputJSON, "json", false, "Output results as JSON")

	syncRunCmd.Flags().StringVar(&syncUser, "user", "", "User identifier (required)")
	_ = syncRunCmd.MarkFlagRequired("user")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile items with the external calendar",
	Long: `Reconcile a user's scheduled items with the external calendar.

A reconcile run only diffs the two sides and proposes corrective
actions; nothing is written until an action token is applied. Tokens
are single-use and expire.

Examples:
  # Run a reconcile and list proposed actions
  planctl sync run --user alice

  # Apply or discard a proposed action by its token
  planctl sync apply 4f9a1c...
  planctl sync discard 4f9a1c...`,
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a reconcile for a user",
	Long: `Diff a user's items against the calendar and propose actions.

Examples:
  # Run a reconcile
  planctl sync run --user alice

  # Output the full report as JSON
  planctl sync run --user alice --json`,
	RunE: runSyncRun,
}

var syncApplyCmd = &cobra.Command{
	Use:   "apply <token>",
	Short: "Apply a proposed action",
	Long: `Apply a proposed action by its confirmation token.

The token is consumed whether or not the calendar call succeeds; a
fresh reconcile proposes again when needed.

Examples:
  planctl sync apply 4f9a1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncApply,
}

var syncDiscardCmd = &cobra.Command{
	Use:   "discard <token>",
	Short: "Discard a proposed action",
	Long: `Discard a proposed action without touching the calendar.

Examples:
  planctl sync discard 4f9a1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncDiscard,
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/users/%s/reconcile", url.PathEscape(syncUser))

	var report syncrec.Report
	if err := apiCall(http.MethodPost, path, nil, &report, http.StatusOK); err != nil {
		return err
	}

	if syncOutputJSON {
		return outputJSON(report)
	}

	fmt.Printf("Reconcile for %s at %s\n",
		report.UserID, report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Linked: %d  Drifted: %d  Orphaned: %d  Unlinked: %d\n",
		report.Counts[syncrec.LinkLinked],
		report.Counts[syncrec.LinkDrifted],
		report.Counts[syncrec.LinkOrphaned],
		report.Counts[syncrec.LinkUnlinked],
	)

	if len(report.Drifts) > 0 {
		fmt.Println("\nDrifted links:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ITEM\tITEM TIME\tEVENT TIME")
		for _, d := range report.Drifts {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				d.ItemID,
				d.ItemStart.Format("2006-01-02 15:04"),
				d.EventStart.Format("2006-01-02 15:04"),
			)
		}
		w.Flush()
	}

	if len(report.Actions) == 0 {
		fmt.Println("\nNo actions proposed")
		return nil
	}

	fmt.Println("\nProposed actions (apply or discard by token):")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tITEM\tREASON\tTOKEN")
	for _, a := range report.Actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.Kind,
			a.ItemID,
			truncate(a.Reason, 40),
			a.Token,
		)
	}
	w.Flush()

	return nil
}

func runSyncApply(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/sync/actions/%s/apply", url.PathEscape(args[0]))
	if err := apiCall(http.MethodPost, path, nil, nil, http.StatusOK); err != nil {
		return err
	}
	fmt.Println("Action applied")
	return nil
}

func runSyncDiscard(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/sync/actions/%s/discard", url.PathEscape(args[0]))
	if err := apiCall(http.MethodPost, path, nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Println("Action discarded")
	return nil
}
