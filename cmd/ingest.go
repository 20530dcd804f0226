package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

func newIngestCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Pull every configured feed once, or ingest postings from a JSON file",
		Long: `Without --file, ingest pulls every feed in ingest.feeds and stores the
new postings. With --file, it reads a JSON array of postings
({"title","link","pubDate","description","company","location"}) instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var res ingest.Result
			if file == "" {
				res, err = appInstance.Pipeline().Run(cmd.Context())
			} else {
				var raws []posting.RawPosting
				if raws, err = readPostings(file); err != nil {
					return err
				}
				res, err = appInstance.Pipeline().Ingest(cmd.Context(), raws)
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of postings to ingest instead of pulling feeds")
	return cmd
}

func readPostings(path string) ([]posting.RawPosting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read postings: %w", err)
	}
	var raws []posting.RawPosting
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode postings: %w", err)
	}
	return raws, nil
}
