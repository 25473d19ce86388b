package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

var (
	// prefs command flags
	prefsUser       string
	prefsOutputJSON bool
)

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsShowCmd)

	prefsCmd.PersistentFlags().BoolVar(&prefsOutputJSON, "json", false, "Output results as JSON")

	prefsShowCmd.Flags().StringVar(&prefsUser, "user", "", "User identifier (required)")
	_ = prefsShowCmd.MarkFlagRequired("user")
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show learned scheduling preferences",
	Long: `Show the preference weights the engine has learned for a user.

Weights live in [0,1] around a neutral 0.5; confidence grows with the
evidence behind each weight.

Examples:
  # Show everything learned for a user
  planctl prefs show --user alice`,
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's preference weights",
	Long: `Show a user's preference weights grouped by dimension.

Examples:
  # Human-readable table
  planctl prefs show --user alice

  # Raw snapshot as JSON
  planctl prefs show --user alice --json`,
	RunE: runPrefsShow,
}

func runPrefsShow(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/users/%s/preferences", url.PathEscape(prefsUser))

	var resp struct {
		Preferences preference.Snapshot `json:"preferences"`
	}
	if err := apiCall(http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return err
	}

	if prefsOutputJSON {
		return outputJSON(resp.Preferences)
	}

	if len(resp.Preferences) == 0 {
		fmt.Println("No preferences learned yet")
		return nil
	}

	dims := make([]string, 0, len(resp.Preferences))
	for dim := range resp.Preferences {
		dims = append(dims, string(dim))
	}
	sort.Strings(dims)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIMENSION\tKEY\tWEIGHT\tCONFIDENCE\tSAMPLES")
	for _, dim := range dims {
		for _, p := range resp.Preferences[preference.Dimension(dim)] {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%d\n",
				dim,
				p.Key,
				p.Weight,
				p.Confidence,
				p.SampleCount,
			)
		}
	}
	w.Flush()

	return nil
}
