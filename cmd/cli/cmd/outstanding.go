package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var outstandingCmd = &cobra.Command{
	Use:   "outstanding",
	Short: "List your jobs that are still in progress",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		url, token, err := credentials()
		if err != nil {
			cmd.Println(err)
			return
		}

		jobs, err := NewJobClient(url, token).ListOutstanding()
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Failed to send request: %v\n", err)
			}
			return
		}

		if len(jobs) == 0 {
			cmd.Println("No outstanding jobs.")
			return
		}

		for _, job := range jobs {
			created := job.CreatedAt
			cmd.Printf("%s  %-28s %-24s %s\n", job.ID, colorizeStatus(job.Status), job.SceneID, formatTimeWithRelative(&created))
		}
	},
}

func init() {
	rootCmd.AddCommand(outstandingCmd)
}
