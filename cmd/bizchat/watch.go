package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/bizchat/internal/ingest"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest text, Markdown and PDF files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personaID, _ := cmd.Flags().GetString("persona")

		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		w, err := ingest.NewDirWatcher(args[0], nil, 0)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Watching %s (Ctrl-C to stop)", args[0])
		return w.Run(ctx, func(ctx context.Context, path string) {
			id, err := ingestFile(ctx, client, path, personaID)
			if err != nil {
				printError("%s: %v", path, err)
				return
			}
			printSuccess("Queued %s as %s", path, id)
		})
	},
}

func init() {
	watchCmd.Flags().String("persona", "", "scope ingested files to a persona")
	rootCmd.AddCommand(watchCmd)
}

func ingestFile(ctx context.Context, client *apiClient, path, personaID string) (string, error) {
	req, err := ingestRequest("", path, "", personaID)
	if err != nil {
		return "", err
	}
	resp, err := client.post(ctx, "/v1/resources", req)
	if err != nil {
		return "", err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result["id"], nil
}
