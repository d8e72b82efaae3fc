package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/torrin-io/torrin/client"
)

func uploadCmd() *cobra.Command {
	var (
		chunkSize   int64
		concurrency int
		noProgress  bool
		noResume    bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file",
		Long: `Upload a file in parallel chunks. Interrupted uploads resume
automatically when the same file is uploaded again.

Examples:
  torrin upload backup.tar.gz
  torrin upload video.mp4 --concurrency 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfig(); err != nil {
				return err
			}

			source, err := client.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer source.Close()

			c, err := client.New(client.Config{BaseURL: serverURL, BasePath: basePath})
			if err != nil {
				return err
			}

			opts := &client.UploadOptions{
				ChunkSize:   chunkSize,
				Concurrency: concurrency,
			}
			if !noResume {
				store, err := client.NewFileResumeStore(resumeDir)
				if err != nil {
					return err
				}
				opts.ResumeStore = store
			}

			upload := client.NewUpload(c, source, opts)

			var bar *mpb.Bar
			var progress *mpb.Progress
			if !noProgress {
				progress = mpb.New()
				bar = progress.New(source.Size(),
					mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("]"),
					mpb.PrependDecorators(
						decor.Name(source.Name(), decor.WC{W: len(source.Name()) + 2, C: decor.DidentRight}),
					),
					mpb.AppendDecorators(
						decor.Percentage(),
						decor.CountersKibiByte("% .2f / % .2f", decor.WCSyncSpace),
					),
				)
				sub := upload.OnProgress(func(p client.Progress) {
					bar.SetCurrent(p.BytesUploaded)
				})
				defer sub.Unsubscribe()
			}

			// Ctrl-C cancels the upload server-side before exiting.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := upload.Start(ctx)
			if err != nil {
				if ctx.Err() != nil {
					upload.Cancel(context.Background())
				}
				return err
			}
			if progress != nil {
				bar.SetCurrent(source.Size())
				progress.Wait()
			}

			fmt.Printf("Upload complete: %s\n", result.UploadID)
			switch result.Location.Type {
			case "s3":
				fmt.Printf("Stored at: s3://%s/%s\n", result.Location.Bucket, result.Location.Key)
			default:
				fmt.Printf("Stored at: %s\n", result.Location.Path)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 0, "requested chunk size in bytes (server clamps)")
	cmd.Flags().IntVar(&concurrency, "concurrency", client.DefaultConcurrency, "parallel chunk uploads")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "disable resume state")

	return cmd
}
