package cmd

import (
	"encoding/json"
	"errors"
	"net/http"

	"sceneplane/pkg/api"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an analysis job against a scene",
	Long: `Submit an algorithm run against a satellite scene.

If the scene is not yet available the job starts ACTIVATING and is submitted to
the execution service once the broker has activated it. If an identical request
already succeeded, that job is returned instead of running the analysis again.

Example:
  scenectl submit --name "coast survey" --scene landsat:LC08_L1TP_044034 --algorithm shoreline
  scenectl submit -n survey -s sentinel:S2A_MSIL1C -a shoreline --mask --extras '{"area":"bay"}'`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		sceneID, _ := flags.GetString("scene")
		algorithmID, _ := flags.GetString("algorithm")
		mask, _ := flags.GetBool("mask")
		credential, _ := flags.GetString("broker-credential")
		extras, _ := flags.GetString("extras")

		url, token, err := credentials()
		if err != nil {
			cmd.Println(err)
			return
		}

		if name == "" || sceneID == "" || algorithmID == "" {
			cmd.Println("Error: --name, --scene and --algorithm are required")
			return
		}

		req := api.SubmitJobRequest{
			Name:        name,
			SceneID:     sceneID,
			AlgorithmID: algorithmID,
			ComputeMask: mask,
			Credential:  credential,
		}
		if extras != "" {
			if !json.Valid([]byte(extras)) {
				cmd.Println("Error: --extras must be valid JSON")
				return
			}
			req.Extras = json.RawMessage(extras)
		}

		job, code, err := NewJobClient(url, token).SubmitJob(req)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				cmd.Printf("Submit failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Submit failed: %v\n", err)
			}
			return
		}

		if code == http.StatusOK {
			cmd.Printf("✓ An identical job already succeeded.\nJob ID: %s\n", job.ID)
			return
		}
		cmd.Printf("✓ Job submitted!\nJob ID: %s\nStatus: %s\n", job.ID, colorizeStatus(job.Status))
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("name", "n", "", "Name of the job (required)")
	flags.StringP("scene", "s", "", "Scene id as platform:external-id (required)")
	flags.StringP("algorithm", "a", "", "Algorithm id (required)")
	flags.Bool("mask", false, "Also compute the coast mask")
	flags.String("broker-credential", "", "Broker credential for this job (default: the one stored with your user)")
	flags.String("extras", "", "Free-form JSON stored with the job")

	rootCmd.AddCommand(submitCmd)
}
