package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/bindery/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "bindery",
	Short: "Web novel to e-book conversion service",
	Long: `Bindery turns serialized web novels into e-books.

Submit a novel by its id ("sourceTag:bookSlug") and bindery fetches the
chapter index and bodies from the source site, assembles an ePub, uploads
it to object storage, and can mail the finished file to a Kindle address.

Job state lives in Postgres with a Redis status cache in front of it;
conversion and delivery run on a durable Redis work queue with retries.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.bindery/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "bindery home directory (default: ~/.bindery)",
	)

	rootCmd.AddCommand(versionCmd)
}
