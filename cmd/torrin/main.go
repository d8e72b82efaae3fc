// torrin is the command-line upload client for a Torrin server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	basePath  string
	resumeDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "torrin",
		Short: "Torrin CLI - resumable chunked uploads from the command line",
		Long: `Torrin CLI uploads large files to a Torrin server in parallel chunks
and resumes interrupted transfers.

Configuration:
  Set TORRIN_URL or use --url.

Examples:
  torrin upload backup.tar.gz
  torrin upload video.mp4 --concurrency 5 --chunk-size 4194304
  torrin status u_abc123
  torrin cancel u_abc123`,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", os.Getenv("TORRIN_URL"), "Torrin server URL (or TORRIN_URL env)")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "/torrin/uploads", "upload API base path")
	rootCmd.PersistentFlags().StringVar(&resumeDir, "resume-dir", defaultResumeDir(), "directory for resume state")

	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cancelCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkConfig() error {
	if serverURL == "" {
		return fmt.Errorf("server URL is required (use --url or TORRIN_URL environment variable)")
	}
	return nil
}

func defaultResumeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".torrin"
	}
	return home + "/.torrin"
}
