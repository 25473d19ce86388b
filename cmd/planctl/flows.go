package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/plannerd/internal/flow"
	v1 "github.com/fyrsmithlabs/plannerd/pkg/api/v1"
)

var (
	// flows command flags
	flowsUser       string
	flowsState      string
	flowsOutputJSON bool
)

func init() {
	rootCmd.AddCommand(flowsCmd)
	flowsCmd.AddCommand(flowsListCmd)
	flowsCmd.AddCommand(flowsAcceptCmd)
	flowsCmd.AddCommand(flowsRejectCmd)

	flowsCmd.PersistentFlags().BoolVar(&flowsOutputJSON, "json", false, "Output results as JSON")

	flowsListCmd.Flags().StringVar(&flowsUser, "user", "", "User identifier (required)")
	flowsListCmd.Flags().StringVar(&flowsState, "state", "", "Filter by state: DETECTED, SUGGESTED, ACTIVE, MODIFIED, DISABLED")
	_ = flowsListCmd.MarkFlagRequired("user")
}

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Inspect and decide automation flows",
	Long: `Inspect a user's automation flows and accept or reject suggestions.

A flow is a recurring behavior the engine detected. Suggested flows wait
for a decision: accepting activates the flow, rejecting sends it back to
DETECTED, and a third consecutive rejection disables it for good.

Examples:
  # List all flows for a user
  planctl flows list --user alice

  # List only suggestions waiting for a decision
  planctl flows list --user alice --state SUGGESTED

  # Accept or reject a suggestion
  planctl flows accept flw_123
  planctl flows reject flw_123`,
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's flows",
	Long: `List a user's flows, optionally filtered by state.

Examples:
  # List all flows
  planctl flows list --user alice

  # List active flows as JSON
  planctl flows list --user alice --state ACTIVE --json`,
	RunE: runFlowsList,
}

var flowsAcceptCmd = &cobra.Command{
	Use:   "accept <flow-id>",
	Short: "Accept a suggested flow",
	Long: `Accept a flow suggestion or a modified flow's update proposal.

Examples:
  # Accept a suggestion
  planctl flows accept flw_123`,
	Args: cobra.ExactArgs(1),
	RunE: runFlowsAccept,
}

var flowsRejectCmd = &cobra.Command{
	Use:   "reject <flow-id>",
	Short: "Reject a suggested flow",
	Long: `Reject a flow suggestion or a modified flow's update proposal.

The third consecutive rejection disables the flow and stops its
signature from being suggested again.

Examples:
  # Reject a suggestion
  planctl flows reject flw_123`,
	Args: cobra.ExactArgs(1),
	RunE: runFlowsReject,
}

func runFlowsList(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/users/%s/flows", url.PathEscape(flowsUser))
	if flowsState != "" {
		path += "?state=" + url.QueryEscape(flowsState)
	}

	var resp struct {
		Flows []flow.Flow `json:"flows"`
	}
	if err := apiCall(http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return err
	}

	if flowsOutputJSON {
		return outputJSON(resp.Flows)
	}

	if len(resp.Flows) == 0 {
		fmt.Println("No flows found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tCONFIDENCE\tTITLE\tWHEN\tREJECTIONS")
	for _, f := range resp.Flows {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s %02d:00\t%d\n",
			f.ID,
			f.State,
			f.Confidence,
			truncate(f.Config.Title, 30),
			f.Config.Weekday,
			f.Config.HourBucket,
			f.ConsecutiveRejections,
		)
	}
	w.Flush()

	return nil
}

func runFlowsAccept(cmd *cobra.Command, args []string) error {
	return decideFlow(args[0], true)
}

func runFlowsReject(cmd *cobra.Command, args []string) error {
	return decideFlow(args[0], false)
}

// decideFlow posts one decision and reports the resulting state.
func decideFlow(flowID string, accepted bool) error {
	path := fmt.Sprintf("/v1/flows/%s/decision", url.PathEscape(flowID))

	var updated flow.Flow
	if err := apiCall(http.MethodPost, path, v1.DecisionRequest{Accepted: accepted}, &updated, http.StatusOK); err != nil {
		return err
	}

	if flowsOutputJSON {
		return outputJSON(updated)
	}

	fmt.Printf("Flow %s is now %s\n", updated.ID, updated.State)
	if updated.State == flow.StateDisabled {
		fmt.Println("This flow will not be suggested again; re-enable it explicitly if needed")
	}
	return nil
}
