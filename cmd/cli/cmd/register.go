package cmd

import (
	"errors"

	"sceneplane/pkg/api"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a user and print its API key",
	Long: `Register a user with the controller. Authenticate with the system secret
(--token); the new user's API key is printed once and cannot be retrieved again.

Example:
  scenectl register --name analyst --broker-credential PLAK123 --rate-limit 5 --token $SYSTEM_SECRET`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		credential, _ := flags.GetString("broker-credential")
		rateLimit, _ := flags.GetInt("rate-limit")
		burst, _ := flags.GetInt("rate-limit-burst")

		url, token, err := credentials()
		if err != nil {
			cmd.Println(err)
			return
		}

		if name == "" || credential == "" {
			cmd.Println("Error: --name and --broker-credential are required")
			return
		}

		user, err := NewJobClient(url, token).RegisterUser(api.RegisterUserRequest{
			Name:             name,
			BrokerCredential: credential,
			RateLimit:        rateLimit,
			RateLimitBurst:   burst,
		})
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				cmd.Printf("Register failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Register failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ User registered!\nUser ID: %s\nAPI key: %s\n", user.ID, user.ApiKey)
		cmd.Println("Store the API key now; it is not shown again.")
	},
}

func init() {
	flags := registerCmd.Flags()
	flags.String("name", "", "Name of the user (required)")
	flags.String("broker-credential", "", "Imagery broker credential of the user (required)")
	flags.Int("rate-limit", 0, "Requests per second (0 = unlimited)")
	flags.Int("rate-limit-burst", 0, "Burst size")

	rootCmd.AddCommand(registerCmd)
}
