package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scenectl",
	Short: "scenectl is a command line tool for the sceneplane analysis platform",
	Long: `scenectl is the command-line interface for sceneplane.

sceneplane runs image-analysis algorithms against satellite scenes. Scenes that
are not yet available are activated through the imagery broker first; the
analysis then runs on a remote execution service and its detections are stored
once it finishes.

Common workflows:

  Register a user (operator, needs the system secret):
    scenectl register --name analyst --broker-credential <key> --token <system-secret>

  Submit a job:
    scenectl submit --name "coast survey" --scene planetscope:20240101_101010_1010 --algorithm shoreline

  Check a job:
    scenectl status <job-id>

  List jobs still in progress:
    scenectl outstanding

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    SCENEPLANE_URL      API endpoint (default: http://localhost:6161)
    SCENEPLANE_TOKEN    API key for authentication`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".scenectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".scenectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SCENEPLANE_VARNAME"
	viper.SetEnvPrefix("SCENEPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// credentials returns the controller URL and API token, or an error when no token is set.
func credentials() (string, string, error) {
	token := viper.GetString("token")
	if token == "" {
		return "", "", fmt.Errorf("API token not found. Please set it using the --token flag or the SCENEPLANE_TOKEN environment variable")
	}
	return viper.GetString("url"), token, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scenectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "sceneplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
