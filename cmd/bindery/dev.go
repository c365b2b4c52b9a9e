package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/config"
	"github.com/jackzampolin/bindery/internal/devstack"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Manage the local development containers",
	Long: `Manage the local Redis and Postgres development containers.

Examples:
  bindery dev start   # Start both containers
  bindery dev stop    # Stop them (data preserved)
  bindery dev status  # Check container status
  bindery dev logs    # View container logs`,
}

// getDevStack creates a devstack manager from the current config.
func getDevStack() (*devstack.Manager, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return devstack.New(devstack.Config{Dev: mgr.Get().Dev})
}

var devStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Redis and Postgres containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := getDevStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		fmt.Println("Starting dev containers...")
		if err := stack.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start dev containers: %w", err)
		}

		fmt.Println("Dev containers are running")
		return nil
	},
}

var devStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the containers (data preserved)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := getDevStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		fmt.Println("Stopping dev containers...")
		if err := stack.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop dev containers: %w", err)
		}

		fmt.Println("Dev containers stopped")
		return nil
	},
}

var devStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := getDevStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		status, err := stack.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		for name, s := range status {
			fmt.Printf("%s: %s\n", name, s)
		}
		return nil
	},
}

var devLogsTail string

var devLogsCmd = &cobra.Command{
	Use:   "logs <container>",
	Short: "Show logs for one container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := getDevStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		logs, err := stack.Logs(cmd.Context(), args[0], devLogsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var devRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop and remove the containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := getDevStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		fmt.Println("Removing dev containers...")
		if err := stack.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove dev containers: %w", err)
		}

		fmt.Println("Dev containers removed")
		return nil
	},
}

func init() {
	devCmd.AddCommand(devStartCmd)
	devCmd.AddCommand(devStopCmd)
	devCmd.AddCommand(devStatusCmd)
	devCmd.AddCommand(devLogsCmd)
	devCmd.AddCommand(devRemoveCmd)

	devLogsCmd.Flags().StringVar(&devLogsTail, "tail", "100", "Number of lines to show from the end")

	rootCmd.AddCommand(devCmd)
}
