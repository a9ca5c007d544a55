package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mediasearch/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find products that look like an image",
	Long: `Search the tenant's catalog for products visually similar to an image.

Examples:
  mediactl search photo.jpg
  mediactl search --tenant acme photo.png`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	body, contentType, err := fileForm(args[0], nil)
	if err != nil {
		return err
	}

	var resp search.Response
	if err := doJSON(http.MethodPost, "/api/v1/search/by-image", body, contentType, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Total == 0 {
		fmt.Fprintln(out, "No similar products found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tSKU\tPRODUCT\tMEDIA")
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%d%%\t%s\t%s\t%s\n", r.SimilarityPercent, r.SKU, truncate(r.ProductName, 40), r.Match.AssetID)
	}
	return w.Flush()
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
