package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/internal/svcctx"
)

var submitUser string

var submitCmd = &cobra.Command{
	Use:   "submit <novelID>",
	Short: "Submit a novel for conversion",
	Long: `Submit a novel for conversion to ePub.

The novel id has the form "sourceTag:bookSlug", for example:
  bindery submit novelfull:martial-world
  bindery submit royalroad:12345-mother-of-learning --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, s *svcctx.Services, args []string) error {
		job, err := s.Service.Submit(ctx, args[0], submitUser)
		if err != nil {
			return err
		}

		fmt.Printf("Job %s queued for %s\n", job.ID, job.NovelID)
		fmt.Printf("Check progress with: bindery status %s\n", job.ID)
		return nil
	}),
}

func init() {
	submitCmd.Flags().StringVar(&submitUser, "user", "", "User id to associate with the job")
	rootCmd.AddCommand(submitCmd)
}
