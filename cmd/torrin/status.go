package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torrin-io/torrin/client"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show the server-side status of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfig(); err != nil {
				return err
			}

			c, err := client.New(client.Config{BaseURL: serverURL, BasePath: basePath})
			if err != nil {
				return err
			}

			status, err := c.GetStatus(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Upload:    %s\n", status.UploadID)
			fmt.Printf("Status:    %s\n", status.Status)
			if status.FileName != "" {
				fmt.Printf("File:      %s\n", status.FileName)
			}
			fmt.Printf("Size:      %d bytes (%d chunks of %d bytes)\n",
				status.FileSize, status.TotalChunks, status.ChunkSize)
			fmt.Printf("Received:  %d/%d\n", len(status.ReceivedChunks), status.TotalChunks)
			if len(status.MissingChunks) > 0 {
				fmt.Printf("Missing:   %v\n", status.MissingChunks)
			}
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <upload-id>",
		Short: "Cancel an in-progress upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfig(); err != nil {
				return err
			}

			c, err := client.New(client.Config{BaseURL: serverURL, BasePath: basePath})
			if err != nil {
				return err
			}

			if err := c.CancelUpload(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Upload %s canceled\n", args[0])
			return nil
		},
	}
}
