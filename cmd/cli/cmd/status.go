package cmd

import (
	"errors"
	"fmt"
	"time"

	"sceneplane/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed status information for a job, including its current state (ACTIVATING, SUBMITTED, RUNNING, SUCCESS, ERROR, CANCELLED), the detections of a successful job and the failure of a failed one.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url, token, err := credentials()
		if err != nil {
			cmd.Println(err)
			return
		}

		job, err := NewJobClient(url, token).GetJob(args[0])
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				cmd.Printf("Request failed with status code: %d\n", apiErr.StatusCode)
			} else {
				cmd.Printf("Failed to send request: %v\n", err)
			}
			return
		}

		printStatus(cmd, *job)
	},
}

func printStatus(cmd *cobra.Command, job api.JobDetailResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, job.Name)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sScene:%s       %s\n", colorDim, colorReset, job.SceneID)
	cmd.Printf("%sAlgorithm:%s   %s %s\n", colorDim, colorReset, job.AlgorithmName, job.AlgorithmVersion)
	if job.RemoteJobID != nil {
		cmd.Printf("%sRemote ID:%s   %s\n", colorDim, colorReset, *job.RemoteJobID)
	}
	if job.Tide != nil {
		cmd.Printf("%sTide:%s        %.2f m\n", colorDim, colorReset, *job.Tide)
	}

	if job.ErrorMessage != nil {
		step := "-"
		if job.ExecutionStep != nil {
			step = *job.ExecutionStep
		}
		cmd.Printf("%sError:%s       %s%s%s (at %s)\n", colorDim, colorReset, colorRed, *job.ErrorMessage, colorReset, step)
	}
	if job.Status == "SUCCESS" {
		cmd.Printf("%sDetections:%s  %s%d%s\n", colorDim, colorReset, colorGreen, len(job.Detections), colorReset)
	}

	created := job.CreatedAt
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&created))
	if !job.UpdatedAt.IsZero() && job.UpdatedAt.After(job.CreatedAt) {
		cmd.Printf("%sUpdated:%s     %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(&job.UpdatedAt),
			colorCyan, formatDuration(job.UpdatedAt.Sub(job.CreatedAt)), colorReset)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "SUCCESS":
		return colorGreen + "✓" + colorReset
	case "ERROR":
		return colorRed + "✗" + colorReset
	case "CANCELLED":
		return colorDim + "⊘" + colorReset
	case "SUBMITTED", "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "ACTIVATING":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "SUCCESS":
		return icon + " " + colorGreen + status + colorReset
	case "ERROR":
		return icon + " " + colorRed + status + colorReset
	case "SUBMITTED", "RUNNING":
		return icon + " " + colorYellow + status + colorReset
	case "ACTIVATING":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
