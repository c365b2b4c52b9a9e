package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/svcctx"
)

var statusCmd = &cobra.Command{
	Use:   "status <jobID>",
	Short: "Show the status of a conversion job",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, s *svcctx.Services, args []string) error {
		entry, err := s.Service.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job:    %s\n", entry.JobID)
		fmt.Printf("Status: %s\n", entry.Status)
		if entry.PublicURL != "" {
			fmt.Printf("URL:    %s\n", entry.PublicURL)
		}
		if entry.ErrorMessage != "" {
			fmt.Printf("Error:  %s\n", entry.ErrorMessage)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
