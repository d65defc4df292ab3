package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teamloop/realtime/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "realtimed",
		Short: "TeamLoop realtime daemon: WebSocket hub, history, and event bridge",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/realtimed.yaml", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(tokenCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("realtimed " + version.String())
		},
	}
}
