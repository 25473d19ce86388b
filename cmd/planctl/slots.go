package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/plannerd/internal/availability"
	v1 "github.com/fyrsmithlabs/plannerd/pkg/api/v1"
)

var (
	// slots command flags
	slotsUser       string
	slotsCategory   string
	slotsDuration   int
	slotsDeadline   string
	slotsOutputJSON bool
)

func init() {
	rootCmd.AddCommand(slotsCmd)

	slotsCmd.Flags().StringVar(&slotsUser, "user", "", "User identifier (required)")
	slotsCmd.Flags().IntVar(&slotsDuration, "duration", 0, "Wanted duration in minutes (required)")
	slotsCmd.Flags().StringVar(&slotsCategory, "category", "", "Item category, biases slot ranking")
	slotsCmd.Flags().StringVar(&slotsDeadline, "deadline", "", "Deadline in RFC3339, clips candidates")
	slotsCmd.Flags().BoolVar(&slotsOutputJSON, "json", false, "Output results as JSON")
	_ = slotsCmd.MarkFlagRequired("user")
	_ = slotsCmd.MarkFlagRequired("duration")
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Find open scheduling slots",
	Long: `Find ranked open slots for a user within the scheduling horizon.

Examples:
  # Find an hour of open time
  planctl slots --user alice --duration 60

  # Bias the ranking by category and clip at a deadline
  planctl slots --user alice --duration 90 --category deep-work \
    --deadline 2026-09-01T17:00:00Z

  # Output as JSON
  planctl slots --user alice --duration 60 --json`,
	RunE: runSlots,
}

func runSlots(cmd *cobra.Command, args []string) error {
	req := v1.SlotsRequest{
		Category:        slotsCategory,
		DurationMinutes: slotsDuration,
	}
	if slotsDeadline != "" {
		deadline, err := time.Parse(time.RFC3339, slotsDeadline)
		if err != nil {
			return fmt.Errorf("invalid --deadline %q: %w", slotsDeadline, err)
		}
		req.Deadline = &deadline
	}

	var result availability.Result
	path := fmt.Sprintf("/v1/users/%s/slots", url.PathEscape(slotsUser))
	if err := apiCall(http.MethodPost, path, req, &result, http.StatusOK); err != nil {
		return err
	}

	if slotsOutputJSON {
		return outputJSON(result)
	}

	if len(result.Slots) == 0 {
		fmt.Println("No slots found")
		for _, flag := range result.Flags {
			switch flag {
			case availability.FlagSplitSuggested:
				fmt.Println("Hint: no free run holds the full duration; consider splitting the work")
			case availability.FlagDeadlineConflict:
				fmt.Println("Hint: free runs exist but none before the deadline")
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tSCORE\tREASONS")
	for _, slot := range result.Slots {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
			slot.Start.Format("Mon 2006-01-02 15:04"),
			slot.End.Format("15:04"),
			slot.Score,
			strings.Join(slot.Reasons, ","),
		)
	}
	w.Flush()

	return nil
}
